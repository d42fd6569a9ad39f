package wake

import "strings"

// Keyword sets for query classification. Membership is a case-insensitive
// substring test; the sets are deliberately broad because transcripts carry
// no punctuation the classifier could rely on.
var (
	visionKeywords = []string{
		"look", "looking at", "see", "seeing", "in front of me",
		"what is this", "what's this", "what is that", "what's that",
		"read this", "read that", "read the", "describe",
		"picture", "photo", "camera", "image",
		"color", "colour", "wearing", "holding", "sign say", "text say",
		"label", "brand", "recognize", "recognise", "identify",
	}

	locationKeywords = []string{
		"where am i", "where i am", "my location", "current location",
		"near me", "nearby", "around here", "close by", "closest", "nearest",
		"directions", "how far", "distance to", "on the way",
		"address", "street", "neighborhood", "neighbourhood",
		"restaurant", "cafe", "coffee shop", "gas station", "pharmacy",
		"what city", "what town", "what country",
	}

	weatherKeywords = []string{
		"weather", "temperature", "forecast", "rain", "raining", "snow",
		"snowing", "sunny", "cloudy", "windy", "humid", "humidity",
		"how hot", "how cold", "degrees", "umbrella",
	}
)

// IsVisionQuery reports whether the query refers to something the user is
// looking at and therefore benefits from a photo.
func IsVisionQuery(query string) bool {
	return containsAny(query, visionKeywords)
}

// IsLocationQuery reports whether the query refers to the user's
// whereabouts or to places around them.
func IsLocationQuery(query string) bool {
	return containsAny(query, locationKeywords)
}

// IsWeatherQuery reports whether the query asks about weather conditions.
func IsWeatherQuery(query string) bool {
	return containsAny(query, weatherKeywords)
}

// NeedsLocation reports whether answering the query requires a coordinate.
// Location queries always do; weather queries do only when they name no
// explicit place (no " in " / " at " preposition), because then the weather
// is implicitly "here".
func NeedsLocation(query string) bool {
	if IsLocationQuery(query) {
		return true
	}
	return IsWeatherQuery(query) && !namesExplicitPlace(query)
}

// NeedsGeocoding reports whether the coordinate should be reverse-geocoded
// into an address. Only queries from the location set need an address;
// implicit-place weather queries are answered from the raw coordinate.
func NeedsGeocoding(query string) bool {
	return IsLocationQuery(query)
}

func namesExplicitPlace(query string) bool {
	q := " " + strings.ToLower(query) + " "
	return strings.Contains(q, " in ") || strings.Contains(q, " at ")
}

func containsAny(query string, keywords []string) bool {
	q := strings.ToLower(query)
	for _, k := range keywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}
