package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckStruct(t *testing.T) {
	type opts struct {
		Name string `json:"name" validate:"required,alphanum_"`
		Path string `json:"path" validate:"required"`
	}

	tests := []struct {
		name       string
		in         opts
		wantFields []string
	}{
		{name: "valid", in: opts{Name: "lesson_v2", Path: "/api/lessons/"}},
		{name: "missing name", in: opts{Path: "/api/lessons/"}, wantFields: []string{"name"}},
		{name: "bad name chars", in: opts{Name: "les-son!", Path: "/x/"}, wantFields: []string{"name"}},
		{name: "all missing", in: opts{}, wantFields: []string{"name", "path"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStruct(tt.in)
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			vErr, ok := err.(*ValidationError)
			assert.True(t, ok)
			var fields []string
			for _, fe := range vErr.Fields {
				fields = append(fields, fe.Field)
			}
			assert.Equal(t, tt.wantFields, fields)
		})
	}
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "abc", CleanString("  abc "))
	assert.Equal(t, "abc", CleanString("  ABC ", true))
	assert.Equal(t, "ABC", CleanString("ABC"))
}
