package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuggest(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		candidates []string
		want       string
		ok         bool
	}{
		{"prefix", "fo", []string{"foo", "bar"}, "foo", true},
		{"nothing close", "zzz", []string{"foo", "bar"}, "", false},
		{"typo", "fop", []string{"foo", "bar"}, "foo", true},
		{"best wins", "wasmi_instantiat", []string{"wasmi_validate", "wasmi_instantiate"}, "wasmi_instantiate", true},
		{"no candidates", "foo", nil, "", false},
		{"tie keeps first", "ab", []string{"abx", "aby"}, "abx", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Suggest(tt.input, tt.candidates)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
