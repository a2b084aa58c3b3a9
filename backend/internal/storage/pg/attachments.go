package pg

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/itchan-dev/itchat/shared/domain"
)

// attachmentList stores message attachments as a JSONB array.
type attachmentList []domain.Attachment

func (a attachmentList) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *attachmentList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported attachments type %T", src)
	}
	var out []domain.Attachment
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode attachments: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*a = out
	return nil
}
