package extraction

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mention is one extracted restaurant/food pairing. The backend fills the
// identity and classification fields; enrichment fields are overwritten by
// the orchestrator from the source lookup tables, never echoed by the model.
type Mention struct {
	TempID               string   `json:"temp_id"`
	RestaurantName       string   `json:"restaurant_name"`
	FoodName             string   `json:"food_name"`
	FoodCategories       []string `json:"food_categories"`
	FoodAttributes       []string `json:"food_attributes"`
	RestaurantAttributes []string `json:"restaurant_attributes"`
	IsMenuItem           bool     `json:"is_menu_item"`
	GeneralPraise        bool     `json:"general_praise"`
	SourceID             string   `json:"source_id"`

	SourceText    string    `json:"-"`
	ParentContext string    `json:"-"`
	AuthorUpvotes int       `json:"-"`
	URL           string    `json:"-"`
	CreatedAt     time.Time `json:"-"`
	Scope         string    `json:"-"`
	PostID        string    `json:"-"`
}

// Result is one successful chunk extraction. Throttle carries the backoff
// the backend asked for, zero when it signaled nothing.
type Result struct {
	Mentions []Mention
	Throttle time.Duration
}

// rawMention mirrors Mention at the wire boundary. general_praise uses a
// pointer so a field the model omitted is distinguishable from false.
type rawMention struct {
	TempID               string   `json:"temp_id"`
	RestaurantName       string   `json:"restaurant_name"`
	FoodName             string   `json:"food_name"`
	FoodCategories       []string `json:"food_categories"`
	FoodAttributes       []string `json:"food_attributes"`
	RestaurantAttributes []string `json:"restaurant_attributes"`
	IsMenuItem           bool     `json:"is_menu_item"`
	GeneralPraise        *bool    `json:"general_praise"`
	SourceID             string   `json:"source_id"`
}

type extractionPayload struct {
	Mentions []rawMention `json:"mentions"`
}

// validateMention enforces the vital fields every mention must carry before
// it may enter the aggregate output.
func validateMention(raw rawMention, index int) (Mention, error) {
	var empty Mention
	if strings.TrimSpace(raw.SourceID) == "" {
		return empty, fmt.Errorf("mention %d: missing source_id", index)
	}
	if strings.TrimSpace(raw.TempID) == "" {
		return empty, fmt.Errorf("mention %d: missing temp_id", index)
	}
	if raw.GeneralPraise == nil {
		return empty, fmt.Errorf("mention %d: missing general_praise", index)
	}
	if strings.TrimSpace(raw.RestaurantName) == "" {
		return empty, fmt.Errorf("mention %d: missing restaurant_name", index)
	}
	return Mention{
		TempID:               strings.TrimSpace(raw.TempID),
		RestaurantName:       strings.TrimSpace(raw.RestaurantName),
		FoodName:             strings.TrimSpace(raw.FoodName),
		FoodCategories:       trimAll(raw.FoodCategories),
		FoodAttributes:       trimAll(raw.FoodAttributes),
		RestaurantAttributes: trimAll(raw.RestaurantAttributes),
		IsMenuItem:           raw.IsMenuItem,
		GeneralPraise:        *raw.GeneralPraise,
		SourceID:             strings.TrimSpace(raw.SourceID),
	}, nil
}

func validatePayload(payload extractionPayload) ([]Mention, error) {
	if payload.Mentions == nil {
		return nil, errors.New("payload missing mentions array")
	}
	mentions := make([]Mention, 0, len(payload.Mentions))
	for i, raw := range payload.Mentions {
		mention, err := validateMention(raw, i)
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, mention)
	}
	return mentions, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
