package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRoomName builds a room name unique across concurrent calls:
// call-<unix seconds>-<phone digits>-<8 hex chars>.
func NewRoomName(phoneNumber string, now time.Time) string {
	clean := strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(phoneNumber)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("call-%d-%s-%s", now.Unix(), clean, suffix)
}
