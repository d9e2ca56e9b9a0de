package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
		contains string
	}{
		{name: "valid", password: "Abcd1234!"},
		{name: "valid with unicode symbol", password: "Abcd1234€"},
		{name: "too short", password: "Ab1!", wantErr: true, contains: "at least 8"},
		{name: "no uppercase", password: "abcd1234!", wantErr: true, contains: "uppercase"},
		{name: "no lowercase", password: "ABCD1234!", wantErr: true, contains: "lowercase"},
		{name: "no digit", password: "Abcdefgh!", wantErr: true, contains: "digit"},
		{name: "no symbol", password: "Abcd12345", wantErr: true, contains: "symbol"},
		{name: "space is not a symbol", password: "Abcd 1234", wantErr: true, contains: "symbol"},
		{name: "several missing", password: "abcdefghij", wantErr: true, contains: "an uppercase letter, a digit, a symbol"},
		{name: "empty", password: "", wantErr: true, contains: "at least 8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrPasswordPolicy)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValidatePasswordCountsRunes(t *testing.T) {
	// Seven runes, more than eight bytes.
	assert.ErrorIs(t, ValidatePassword("Äb1!ßçé"), ErrPasswordPolicy)
}
