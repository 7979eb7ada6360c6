package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Defaults applied when optional job metadata is absent.
const (
	DefaultCustomerName    = "Customer"
	DefaultScript          = "Default script content"
	DefaultAppointmentTime = "next Tuesday at 3pm"
	DefaultBusinessName    = "Intercontinental Commodity Exchange Dubai"
)

// CallJob is the immutable description of one outbound call, decoded from job metadata.
type CallJob struct {
	PhoneNumber     string `json:"phone_number"`
	CustomerName    string `json:"user_name"`
	Script          string `json:"script"`
	AppointmentTime string `json:"appointment_time"`
	BusinessName    string `json:"business_name"`
	TransferTo      string `json:"transfer_to,omitempty"`
}

// CanTransfer reports whether a human transfer target was supplied.
func (j CallJob) CanTransfer() bool {
	return j.TransferTo != ""
}

// callMetadata mirrors the wire schema. Pointers distinguish absent/null from present.
type callMetadata struct {
	PhoneNumber     *string `json:"phone_number"`
	UserName        *string `json:"user_name"`
	Script          *string `json:"script"`
	AppointmentTime *string `json:"appointment_time"`
	BusinessName    *string `json:"business_name"`
	TransferTo      *string `json:"transfer_to"`
}

// DecodeCallJob parses job metadata into a CallJob, applying defaults for absent optional fields.
// Malformed input yields ErrInvalidJobMetadata and a missing phone number yields ErrMissingPhoneNumber.
func DecodeCallJob(raw string) (CallJob, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed[0] != '{' {
		return CallJob{}, fmt.Errorf("%w: payload is not a JSON object", ErrInvalidJobMetadata)
	}

	var meta callMetadata
	if err := json.Unmarshal([]byte(trimmed), &meta); err != nil {
		return CallJob{}, fmt.Errorf("%w: %v", ErrInvalidJobMetadata, err)
	}

	job := CallJob{
		PhoneNumber:     strings.TrimSpace(valueOr(meta.PhoneNumber, "")),
		CustomerName:    valueOr(meta.UserName, DefaultCustomerName),
		Script:          valueOr(meta.Script, DefaultScript),
		AppointmentTime: valueOr(meta.AppointmentTime, DefaultAppointmentTime),
		BusinessName:    valueOr(meta.BusinessName, DefaultBusinessName),
		TransferTo:      strings.TrimSpace(valueOr(meta.TransferTo, "")),
	}

	if job.PhoneNumber == "" {
		return CallJob{}, ErrMissingPhoneNumber
	}
	return job, nil
}

// Encode renders the job in the metadata schema that DecodeCallJob reads.
func (j CallJob) Encode() (string, error) {
	meta := map[string]interface{}{
		"phone_number":     j.PhoneNumber,
		"user_name":        j.CustomerName,
		"script":           j.Script,
		"appointment_time": j.AppointmentTime,
		"business_name":    j.BusinessName,
		"transfer_to":      nil,
	}
	if j.TransferTo != "" {
		meta["transfer_to"] = j.TransferTo
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func valueOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
