package services

import (
	"testing"

	"github.com/medcharts/backend/internal/models"
)

func TestExtractCodeCategories(t *testing.T) {
	payload := models.JSONB{
		"diagnosis_codes": map[string]interface{}{
			"primary_diagnosis": []interface{}{
				map[string]interface{}{"icd_10_code": "K35.80"},
			},
		},
		"procedure_codes": map[string]interface{}{
			"cpt_codes": []interface{}{
				map[string]interface{}{"cpt_code": "44950"},
			},
		},
		"coding_notes": "routine appendectomy",
	}

	snapshot := ExtractCodeCategories(payload)

	primary, ok := snapshot["primary_diagnosis"].([]interface{})
	if !ok || len(primary) != 1 {
		t.Fatalf("expected primary_diagnosis in snapshot, got %+v", snapshot)
	}
	first, ok := primary[0].(map[string]interface{})
	if !ok || first["icd_10_code"] != "K35.80" {
		t.Errorf("expected K35.80 in snapshot, got %+v", primary[0])
	}
	if _, ok := snapshot["cpt_codes"]; !ok {
		t.Error("expected cpt_codes in snapshot")
	}
	if _, ok := snapshot["coding_notes"]; ok {
		t.Error("expected non-category fields to be excluded from snapshot")
	}
}

func TestExtractCodeCategoriesUnknownShape(t *testing.T) {
	payload := models.JSONB{"anything": "else"}
	snapshot := ExtractCodeCategories(payload)
	if snapshot["anything"] != "else" {
		t.Errorf("expected unknown payload to be snapshotted whole, got %+v", snapshot)
	}

	if got := ExtractCodeCategories(nil); got != nil {
		t.Errorf("expected nil snapshot for nil payload, got %+v", got)
	}
}
