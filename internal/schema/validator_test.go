package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectionReportSchema(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	valid := map[string]interface{}{
		"inspectorId":       "insp-1",
		"assetId":           7,
		"physicalCondition": "good",
		"authenticity":      "verified",
		"bridgingQuality":   "secure",
		"notes":             "",
		"photos":            nil,
	}
	assert.NoError(t, v.Validate(InspectionReport, valid))

	cases := map[string]func(m map[string]interface{}){
		"empty inspector":  func(m map[string]interface{}) { m["inspectorId"] = "" },
		"zero asset":       func(m map[string]interface{}) { m["assetId"] = 0 },
		"bad authenticity": func(m map[string]interface{}) { m["authenticity"] = "genuine" },
		"bad condition":    func(m map[string]interface{}) { m["physicalCondition"] = "" },
		"bad quality":      func(m map[string]interface{}) { m["bridgingQuality"] = "strong" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			doc := map[string]interface{}{}
			for k, val := range valid {
				doc[k] = val
			}
			mutate(doc)
			err := v.Validate(InspectionReport, doc)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.NotEmpty(t, verr.Problems)
		})
	}
}

func TestCreationDataSchema(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	ok := map[string]interface{}{"tokenId": 0, "contractAddress": "0xabc", "networkId": 1, "verificationMethods": []string{"qr", "nfc"}}
	assert.NoError(t, v.Validate(CreationData, ok))

	ok["verificationMethods"] = []string{}
	assert.Error(t, v.Validate(CreationData, ok))

	ok["verificationMethods"] = []string{"rfid"}
	assert.Error(t, v.Validate(CreationData, ok))
}

func TestUnknownDocument(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.Error(t, v.Validate("nope", map[string]interface{}{}))
}
