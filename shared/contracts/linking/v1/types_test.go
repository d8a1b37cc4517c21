package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeConnectionUpdate, TS: now}},
		{name: "bad version", env: Envelope{V: 2, Type: TypeConnectionUpdate, TS: now}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version, TS: now}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "message.new", TS: now}, wantErr: true},
		{name: "missing ts", env: Envelope{V: Version, Type: TypeError}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}
