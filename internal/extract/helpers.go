package extract

import (
	"encoding/json"
	"strings"

	"github.com/RecoveryAshes/ListingHunter/internal/models"
)

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func unmarshalListings(raw string, out *[]models.Listing) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
