package domain

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaFile  MediaKind = "file"
)

// Attachment is stored inline with its message.
type Attachment struct {
	Name string    `json:"name"`
	Size int64     `json:"size"`
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

// PendingFile holds an upload before it reaches the object store.
type PendingFile struct {
	Name        string
	ContentType string
	Data        []byte
}
