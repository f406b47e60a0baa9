package mongostore

import (
	"testing"

	"frota/internal/store"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
)

func TestToBSONKeepsNumbers(t *testing.T) {
	fields, err := toBSON([]byte(`{"plate":"ABC1D23","mileage":150000,"hours":"1500.5","id":"x","accountId":"y"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["id"]; ok {
		t.Error("id must not be stored as a field")
	}
	if _, ok := fields["accountId"]; ok {
		t.Error("accountId must come from the scope, not the body")
	}
	if fields["plate"] != "ABC1D23" {
		t.Errorf("plate = %v", fields["plate"])
	}
	switch fields["mileage"].(type) {
	case int32, int64:
	default:
		t.Errorf("mileage stored as %T, want an integer", fields["mileage"])
	}
}

func TestFromBSONStripsMetadata(t *testing.T) {
	raw := bson.M{
		keyID:            "trip-1",
		store.KeyAccount: "acct",
		keyCreated:       int64(1),
		keyUpdated:       int64(2),
		"status":         "in_progress",
		"startKm":        int32(150000),
	}
	doc, err := fromBSON(raw)
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "trip-1" {
		t.Errorf("id = %q", doc.ID)
	}
	if store.Field(doc.Data, store.KeyAccount) != "" || store.Field(doc.Data, keyCreated) != "" {
		t.Errorf("metadata leaked into body: %s", doc.Data)
	}
	if store.Field(doc.Data, "startKm") != "150000" || store.Field(doc.Data, "status") != "in_progress" {
		t.Errorf("unexpected body %s", doc.Data)
	}
}

func TestPatchUpdate(t *testing.T) {
	update, err := patchUpdate(map[string]any{
		"status":     "completed",
		"finalHours": decimal.RequireFromString("1650.5"),
		"notes":      nil,
		"_id":        "other",
	}, 42)
	if err != nil {
		t.Fatal(err)
	}
	set, ok := update["$set"].(bson.M)
	if !ok {
		t.Fatalf("missing $set in %v", update)
	}
	if set["status"] != "completed" {
		t.Errorf("status = %v", set["status"])
	}
	if set["finalHours"] != "1650.5" {
		t.Errorf("decimal should be stored in its JSON form, got %v (%T)", set["finalHours"], set["finalHours"])
	}
	if _, ok := set["_id"]; ok {
		t.Error("patch must not rewrite the id")
	}
	if set[keyUpdated] != int64(42) {
		t.Errorf("updated stamp = %v", set[keyUpdated])
	}
	unset, ok := update["$unset"].(bson.M)
	if !ok || len(unset) != 1 {
		t.Fatalf("expected notes in $unset, got %v", update["$unset"])
	}
}
