package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskMetadata(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"package_id":    "PKG-1",
		"referral_code": "REF-ABCDEFG",
		"customer": map[string]any{
			"email": "jane@example.com",
			"phone": "+15551234567",
		},
		"": "dropped",
	})

	assert.Equal(t, "PKG-1", out["package_id"])
	assert.Equal(t, "****DEFG", out["referral_code"])
	nested := out["customer"].(map[string]any)
	assert.Equal(t, "j****@example.com", nested["email"])
	assert.Equal(t, "****4567", nested["phone"])
	assert.NotContains(t, out, "")
}

func TestMaskSecretShortValues(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abc"))
}
