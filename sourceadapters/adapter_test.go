package sourceadapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/myjobmatch/matchengine/models"
)

func TestExternalIDFromContent_Stable(t *testing.T) {
	posted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id1 := ExternalIDFromContent("Backend Engineer", "Acme", "Berlin", posted)
	id2 := ExternalIDFromContent("Backend Engineer", "Acme", "Berlin", posted)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 32)

	id3 := ExternalIDFromContent("Backend Engineer", "Acme", "Munich", posted)
	assert.NotEqual(t, id1, id3)
}

func TestFilterByCountry_DropsMismatches(t *testing.T) {
	jobs := []models.RawJob{
		{ExternalID: "1", CountryCode: "de"},
		{ExternalID: "2", CountryCode: "gb"},
		{ExternalID: "3", CountryCode: ""},
	}
	filtered := FilterByCountry(jobs, "de")
	assert.Len(t, filtered, 2)
	for _, j := range filtered {
		assert.NotEqual(t, "gb", j.CountryCode)
	}
}

func TestFilterByCountry_NoFilterWhenCountryEmpty(t *testing.T) {
	jobs := []models.RawJob{{ExternalID: "1", CountryCode: "de"}, {ExternalID: "2", CountryCode: "gb"}}
	assert.Equal(t, jobs, FilterByCountry(jobs, ""))
}

func TestRoundToAdzunaWindow(t *testing.T) {
	assert.Equal(t, 24, roundToAdzunaWindow(0))
	assert.Equal(t, 24, roundToAdzunaWindow(10))
	assert.Equal(t, 48, roundToAdzunaWindow(25))
}
