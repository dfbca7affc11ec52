package auth

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
)

func TestDecodeGroupsClaim(t *testing.T) {
	groups, err := DecodeGroupsClaim(json.RawMessage(`{"sub":"u1","groups":["staff","admins"]}`))
	if err != nil {
		t.Fatalf("DecodeGroupsClaim: %v", err)
	}
	if !reflect.DeepEqual(groups, []string{"staff", "admins"}) {
		t.Errorf("groups = %v", groups)
	}
}

func TestDecodeGroupsClaimAbsent(t *testing.T) {
	groups, err := DecodeGroupsClaim(json.RawMessage(`{"sub":"u1"}`))
	if err != nil {
		t.Fatalf("DecodeGroupsClaim: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups = %v, want none", groups)
	}
}

func TestDecodeGroupsClaimWrongShape(t *testing.T) {
	if _, err := DecodeGroupsClaim(json.RawMessage(`{"groups":"staff"}`)); err == nil {
		t.Error("expected error for non-array groups claim")
	}
}

func TestCustomGroupDecoder(t *testing.T) {
	p := newFakeProvider(t)
	p.userinfoClaims = map[string]any{
		"sub":                "user-1",
		"preferred_username": "user1",
		"resource_access":    map[string]any{"notes": map[string]any{"roles": []string{"editor"}}},
	}
	c := newTestClient(t, p, func(cfg *Config) {
		cfg.RequiredGroups = []string{"editor"}
		cfg.Groups = func(raw json.RawMessage) ([]string, error) {
			var claim struct {
				ResourceAccess map[string]struct {
					Roles []string `json:"roles"`
				} `json:"resource_access"`
			}
			if err := json.Unmarshal(raw, &claim); err != nil {
				return nil, err
			}
			return claim.ResourceAccess["notes"].Roles, nil
		}
	})

	sessionID, state := beginLogin(t, c, p)
	if _, ok := c.CompleteLogin(context.Background(), sessionID, "test-code", state); !ok {
		t.Fatal("login with custom group decoder failed")
	}
}
