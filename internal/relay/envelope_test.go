package relay

import (
	"errors"
	"strings"
	"testing"
)

func TestParseEnvelope_Malformed(t *testing.T) {
	if _, err := ParseEnvelope([]byte("not json")); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
	if _, err := ParseEnvelope([]byte(`{"type":123}`)); err == nil {
		t.Fatalf("expected error for non-string type")
	}
}

func TestParseEnvelope_UnknownType(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"type":"disco"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestParseEnvelope_ToleratesExtraFields(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"ping","futureField":true}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Type != TypePing {
		t.Fatalf("type = %q, want ping", env.Type)
	}
}

func TestParseEnvelope_RegisterUserID(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"type":"register"}`)); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("missing userId: err = %v, want ErrInvalidUserID", err)
	}

	long := strings.Repeat("a", MaxUserIDLength+1)
	if _, err := ParseEnvelope([]byte(`{"type":"register","userId":"` + long + `"}`)); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("oversized userId: err = %v, want ErrInvalidUserID", err)
	}

	exact := strings.Repeat("a", MaxUserIDLength)
	env, err := ParseEnvelope([]byte(`{"type":"register","userId":"` + exact + `"}`))
	if err != nil {
		t.Fatalf("max-length userId should be valid: %v", err)
	}
	if env.UserID != exact {
		t.Fatalf("userId = %q, want %q", env.UserID, exact)
	}
}

func TestParseEnvelope_DirectedTypesRequireTargetAndPayload(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"offer missing target", `{"type":"offer","offer":{"sdp":"x"}}`},
		{"offer missing payload", `{"type":"offer","targetUserId":"bob"}`},
		{"answer missing payload", `{"type":"answer","targetUserId":"bob"}`},
		{"candidate missing payload", `{"type":"ice-candidate","targetUserId":"bob"}`},
		{"message missing payload", `{"type":"message","targetUserId":"bob"}`},
		{"contact-request missing payload", `{"type":"contact-request","targetUserId":"bob"}`},
		{"contact-accepted missing payload", `{"type":"contact-accepted","targetUserId":"bob"}`},
	}
	for _, tc := range cases {
		if _, err := ParseEnvelope([]byte(tc.raw)); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	valid := `{"type":"offer","targetUserId":"bob","offer":{"type":"offer","sdp":"v=0"}}`
	env, err := ParseEnvelope([]byte(valid))
	if err != nil {
		t.Fatalf("valid offer: %v", err)
	}
	if env.TargetUserID != "bob" || len(env.Offer) == 0 {
		t.Fatalf("unexpected parse result: %+v", env)
	}
}

func TestForwardPayload_CopiesMatchingField(t *testing.T) {
	src := Envelope{Type: TypeICECandidate, Candidate: []byte(`{"candidate":"c"}`)}
	var dst Envelope
	dst.Type = src.Type
	forwardPayload(&dst, src)
	if string(dst.Candidate) != `{"candidate":"c"}` {
		t.Fatalf("candidate not copied: %+v", dst)
	}
	if dst.Offer != nil || dst.MessageData != nil {
		t.Fatalf("unexpected extra payload fields: %+v", dst)
	}
}
