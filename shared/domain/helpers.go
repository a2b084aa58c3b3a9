package domain

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DetectMediaKind classifies upload bytes. Anything that decodes as an image
// header is an image, everything else is a plain file.
func DetectMediaKind(data []byte) MediaKind {
	if len(data) == 0 {
		return MediaFile
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return MediaImage
	}
	return MediaFile
}

// for debug
func (m *Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[id:%s, sender:%s, body:%q, created:%s, state:%s", m.Id, m.SenderId, m.Body, m.CreatedAt.Format(time.StampMilli), m.State)
	if len(m.Attachments) > 0 {
		fmt.Fprintf(&sb, ", attachments:%+v", m.Attachments)
	}
	if m.Poll != nil {
		fmt.Fprintf(&sb, ", poll:%q(%d options)", m.Poll.Question, len(m.Poll.Options))
	}
	sb.WriteString("]")
	return sb.String()
}

func (t *Thread) String() string {
	return fmt.Sprintf("[id:%s, title:%s, group:%v, participants:%d, created:%v]", t.Id, t.Title, t.IsGroup, len(t.Participants), t.CreatedAt)
}
