package models

import (
	"testing"
)

func TestJobDataRoundTrip(t *testing.T) {
	original := JobData{
		ChartID:     7,
		ChartNumber: "CH-7",
		SessionID:   "sess-7",
		ChartInfo:   map[string]interface{}{"patientName": "Jane"},
		DocumentIDs: []uint{1, 2, 3},
	}

	decoded := DecodeJobData(original.Encode())

	if decoded.ChartID != 7 || decoded.ChartNumber != "CH-7" || decoded.SessionID != "sess-7" {
		t.Errorf("unexpected decoded job data %+v", decoded)
	}
	if len(decoded.DocumentIDs) != 3 || decoded.DocumentIDs[2] != 3 {
		t.Errorf("unexpected document ids %+v", decoded.DocumentIDs)
	}
	if decoded.ChartInfo["patientName"] != "Jane" {
		t.Errorf("unexpected chart info %+v", decoded.ChartInfo)
	}
}

func TestDecodeJobDataNil(t *testing.T) {
	decoded := DecodeJobData(nil)
	if decoded.ChartID != 0 || decoded.SessionID != "" || decoded.DocumentIDs != nil {
		t.Errorf("expected zero value for nil payload, got %+v", decoded)
	}
}
