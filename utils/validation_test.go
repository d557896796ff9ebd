package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRow struct {
	ID    string            `json:"id" validate:"required,max=8,printable"`
	Name  string            `json:"name" validate:"max=16,printable"`
	Extra map[string]string `json:"extra,omitempty" validate:"dive,max=4"`
	Note  string            `validate:"max=2"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		row       testRow
		wantField string
		wantMsg   string
	}{
		{
			name: "valid row",
			row:  testRow{ID: "A1", Name: "Alice\tSmith"},
		},
		{
			name:      "missing required id",
			row:       testRow{Name: "Alice"},
			wantField: "id",
			wantMsg:   "id is required",
		},
		{
			name:      "id too long",
			row:       testRow{ID: "ABCDEFGHIJ"},
			wantField: "id",
			wantMsg:   "id must be at most 8 characters",
		},
		{
			name:      "control character",
			row:       testRow{ID: "A1", Name: "Al\x00ice"},
			wantField: "name",
			wantMsg:   "name contains control characters",
		},
		{
			name:      "invalid utf8",
			row:       testRow{ID: "A1", Name: "\xff"},
			wantField: "name",
		},
		{
			name:      "untagged field keeps go name",
			row:       testRow{ID: "A1", Note: "long"},
			wantField: "Note",
		},
		{
			name:      "map values are checked",
			row:       testRow{ID: "A1", Extra: map[string]string{"major": "Informatics"}},
			wantField: "extra[major]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.row)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			fields := GetValidationFields(err)
			require.Contains(t, fields, tt.wantField)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, fields[tt.wantField])
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Test validation error",
		Fields: map[string]string{
			"field1": "error1",
		},
	}

	assert.Equal(t, "Test validation error", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestGetValidationFields(t *testing.T) {
	t.Run("gets fields from validation error", func(t *testing.T) {
		fields := map[string]string{
			"field1": "error1",
			"field2": "error2",
		}
		err := &ValidationError{
			Message: "test",
			Fields:  fields,
		}

		assert.Equal(t, fields, GetValidationFields(err))
	})

	t.Run("returns nil for non-validation error", func(t *testing.T) {
		assert.Nil(t, GetValidationFields(assert.AnError))
	})
}
