package eventlogger

import (
	"testing"

	"github.com/dreschagin/eventlogger/internal/application/port"
	"github.com/dreschagin/eventlogger/internal/domain/entity"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
)

func TestEnrich_MergeOrder(t *testing.T) {
	params := map[string]interface{}{"screen": "home", "app": "caller"}
	cfg := NewConfig(Overrides{GlobalParameters: map[string]interface{}{"app": "global", "env": "prod"}})

	record := Enrich(entity.NewEvent("opened", valueobject.LevelInfo, params), cfg, staticIdentity{id: "u-1", email: "a@b.c"})
	fields := record.Fields()

	want := map[string]interface{}{
		"screen":              "home",
		"app":                 "global",
		"env":                 "prod",
		entity.FieldUserID:    "u-1",
		entity.FieldEmail:     "a@b.c",
		entity.FieldLevel:     "info",
		entity.FieldEventName: "opened",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Fatalf("field %s = %v, want %v", k, fields[k], v)
		}
	}
	if !record.HasServerTimestamp() {
		t.Fatal("remote record must carry a server timestamp marker")
	}
	if params["app"] != "caller" || len(params) != 2 {
		t.Fatalf("caller params mutated: %v", params)
	}
}

func TestEnrich_ReservedKeysWin(t *testing.T) {
	params := map[string]interface{}{entity.FieldEventName: "spoofed", entity.FieldLevel: "error"}
	record := Enrich(entity.NewEvent("real", valueobject.LevelDebug, params), DefaultConfig(), nil)

	if v, _ := record.Field(entity.FieldEventName); v != "real" {
		t.Fatalf("event_name = %v", v)
	}
	if v, _ := record.Field(entity.FieldLevel); v != "debug" {
		t.Fatalf("level = %v", v)
	}
}

func TestEnrich_UserInfo(t *testing.T) {
	tests := []struct {
		name      string
		include   bool
		identity  port.IdentityProvider
		wantID    interface{}
		wantFound bool
	}{
		{name: "included", include: true, identity: staticIdentity{id: "u-7", email: "x@y.z"}, wantID: "u-7", wantFound: true},
		{name: "excluded", include: false, identity: staticIdentity{id: "u-7"}, wantFound: false},
		{name: "nil provider", include: true, identity: nil, wantID: port.IdentityUninitialized, wantFound: true},
		{name: "panicking provider", include: true, identity: panickingIdentity{}, wantID: port.IdentityUninitialized, wantFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(Overrides{IncludeUserInfo: Bool(tt.include)})
			record := Enrich(entity.NewEvent("e", valueobject.LevelInfo, nil), cfg, tt.identity)

			id, found := record.Field(entity.FieldUserID)
			if found != tt.wantFound {
				t.Fatalf("userId present = %v, want %v", found, tt.wantFound)
			}
			if found && id != tt.wantID {
				t.Fatalf("userId = %v, want %v", id, tt.wantID)
			}
		})
	}
}
