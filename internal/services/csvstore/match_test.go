package csvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameTokens(t *testing.T) {
	assert.Equal(t, []string{"jose", "garcia"}, NameTokens("Dr. José García, PhD"))
	assert.Equal(t, []string{"robert", "smith"}, NameTokens("Robert (Bob) Smith Jr."))
	assert.Empty(t, NameTokens("  "))
}

func TestDefaultMatch(t *testing.T) {
	jane := NewPerson("Jane Doe", "", "", "Acme Inc")

	assert.True(t, DefaultMatch(NewPerson("", "Jane", "Doe", ""), jane))
	assert.True(t, DefaultMatch(NewPerson("Jane Q. Doe", "", "", "acme"), jane))
	assert.True(t, DefaultMatch(NewPerson("Jane Doee", "", "", ""), jane))
	assert.False(t, DefaultMatch(NewPerson("Jane Doe", "", "", "Globex"), jane))
	assert.False(t, DefaultMatch(NewPerson("John Smith", "", "", ""), jane))
	assert.False(t, DefaultMatch(NewPerson("", "", "", ""), jane))
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "acme.com", NormalizeDomain("https://www.Acme.com/about?x=1"))
	assert.Equal(t, "acme.co.uk", NormalizeDomain("acme.co.uk"))
	assert.Equal(t, "", NormalizeDomain("n/a"))
	assert.Equal(t, "", NormalizeDomain(""))
}
