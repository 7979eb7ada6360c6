package twilio

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/twilio/twilio-go"
	lookups "github.com/twilio/twilio-go/rest/lookups/v2"
	"go.uber.org/zap"
)

// ErrInvalidPhoneNumber is returned when Twilio Lookup reports a number as not dialable.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

const cacheTTL = 24 * time.Hour

type lookupAPI interface {
	FetchPhoneNumber(phoneNumber string, params *lookups.FetchPhoneNumberParams) (*lookups.LookupResponse, error)
}

// LookupService validates destination numbers through Twilio Lookup v2 before a call is placed.
// It caches normalized results since intake may see the same contacts repeatedly.
type LookupService struct {
	api     lookupAPI
	enabled bool
	mutex   sync.RWMutex
	cache   map[string]cachedLookup
	now     func() time.Time
}

type cachedLookup struct {
	e164      string
	fetchedAt time.Time
}

// NewLookupService creates a new lookup service.
// If accountSID or authToken is empty, the service is disabled and numbers pass through unchanged.
func NewLookupService(accountSID, authToken string) *LookupService {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("Twilio credentials not provided, phone lookup disabled")
		return &LookupService{enabled: false}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	return newLookupService(client.LookupsV2)
}

func newLookupService(api lookupAPI) *LookupService {
	return &LookupService{
		api:     api,
		enabled: true,
		cache:   make(map[string]cachedLookup),
		now:     time.Now,
	}
}

// IsEnabled reports whether lookups hit Twilio.
func (s *LookupService) IsEnabled() bool {
	return s != nil && s.enabled
}

// Normalize returns the E.164 form of phoneNumber, or ErrInvalidPhoneNumber when Twilio rejects it.
func (s *LookupService) Normalize(phoneNumber string) (string, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if !s.IsEnabled() {
		return phoneNumber, nil
	}

	s.mutex.RLock()
	cached, ok := s.cache[phoneNumber]
	s.mutex.RUnlock()
	if ok && s.now().Sub(cached.fetchedAt) < cacheTTL {
		return cached.e164, nil
	}

	resp, err := s.api.FetchPhoneNumber(phoneNumber, &lookups.FetchPhoneNumberParams{})
	if err != nil {
		logger.Base().Error("Twilio lookup failed", zap.String("phone_number", phoneNumber), zap.Error(err))
		return "", fmt.Errorf("twilio lookup: %w", err)
	}

	if resp == nil || !resp.Valid || resp.PhoneNumber == nil {
		var reasons []string
		if resp != nil {
			for _, v := range resp.ValidationErrors {
				reasons = append(reasons, string(v))
			}
		}
		logger.Base().Info("Twilio lookup rejected number", zap.String("phone_number", phoneNumber), zap.Strings("validation_errors", reasons))
		return "", fmt.Errorf("%w: %s", ErrInvalidPhoneNumber, strings.Join(reasons, ", "))
	}

	e164 := *resp.PhoneNumber
	s.mutex.Lock()
	s.cache[phoneNumber] = cachedLookup{e164: e164, fetchedAt: s.now()}
	s.mutex.Unlock()

	return e164, nil
}
