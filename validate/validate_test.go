package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateComment(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"single char", "x", true},
		{"empty", "", false},
		{"whitespace only", "   \t\n", false},
		{"max length", strings.Repeat("a", 500), true},
		{"too long", strings.Repeat("a", 501), false},
		{"length counted after trim", "  " + strings.Repeat("a", 500) + "  ", true},
		{"multibyte counted as chars", strings.Repeat("你", 200), true},
		{"multibyte max length", strings.Repeat("你", 500), true},
		{"multibyte too long", strings.Repeat("你", 501), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.value, KindComment))
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"a@b.c", true},
		{"alice@example.io", true},
		{"nope", false},
		{"a b@c.d", false},
		{"a@b", false},
		{"@b.c", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.value, KindEmail))
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"ok", "Secret12", true},
		{"too short", "Ab1", false},
		{"no uppercase", "secret12", false},
		{"no lowercase", "SECRET12", false},
		{"no digit", "SecretSecret", false},
		{"max length fits bcrypt", "Aa1" + strings.Repeat("x", 69), true},
		{"over bcrypt input limit", "Aa1" + strings.Repeat("x", 70), false},
		// the bound is bytes: a rune-short multibyte password can still be too big
		{"multibyte over byte limit", "Aa1" + strings.Repeat("你", 24), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.value, KindPassword))
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"alnum", "post1", true},
		{"dashes and underscores", "a-b_c", true},
		{"push id", "-OaBcDeFgHiJkLmNoPqR", true},
		{"empty", "", false},
		{"slash", "a/b", false},
		{"space", "a b", false},
		{"too long", strings.Repeat("a", 101), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.value, KindID))
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.True(t, Validate(strings.Repeat("n", 50), KindName))
	assert.False(t, Validate(strings.Repeat("n", 51), KindName))
	assert.True(t, Validate("Grace O'Malley", KindName), "display names are free-form")
	assert.True(t, Validate(strings.Repeat("名", 50), KindName), "rune count, not bytes")
}

// usernames become store path segments, so they follow the id charset
func TestValidateUsernamePathSafe(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"alice", true},
		{"a-b_c", true},
		{"bob/email", false},
		{"../users", false},
		{"a b", false},
		{"  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.value, KindUsername))
		})
	}
}

func TestValidateUnknownKind(t *testing.T) {
	assert.False(t, Validate("anything", "nonsense"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hello", Sanitize("  hello\n"))
	// sanitize only trims; escaping is the rendering layer's job
	assert.Equal(t, "<b>hi</b>", Sanitize(" <b>hi</b> "))
}
