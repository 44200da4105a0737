package sipmsg

import "testing"

func TestParam(t *testing.T) {
	tests := []struct {
		value    string
		name     string
		expected string
		found    bool
	}{
		{`Bob <sip:bob@biloxi.com>;tag=a6c85cf`, "tag", "a6c85cf", true},
		{`<sip:bob@biloxi.com;tag=inside>`, "tag", "", false},
		{`"Semi;tag=colon" <sip:x@y>;TAG=real`, "tag", "real", true},
		{`"Esc \" ;tag=no" <sip:x@y> ; tag = spaced ; lr`, "tag", "spaced", true},
		{`sip:carol@chicago.com;tag=plain`, "tag", "plain", true},
		{`<sip:x@y>;expires=60;tag="quoted"`, "tag", `"quoted"`, true},
		{`<sip:x@y>;lr`, "lr", "", true},
		{`<sip:x@y>`, "tag", "", false},
		{``, "tag", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, found := Param(tt.value, tt.name)
			if got != tt.expected || found != tt.found {
				t.Errorf("Param(%q, %q) = %q, %v, expected %q, %v", tt.value, tt.name, got, found, tt.expected, tt.found)
			}
		})
	}
}
