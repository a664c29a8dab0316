package locales

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallback(t *testing.T) {
	assert.Equal(t, T("en-US", RoleAssigned), T("pt-BR", RoleAssigned), "unknown locale falls back to en-US")
	assert.Equal(t, T("en-US", RoleAssigned), T("", RoleAssigned), "unset locale falls back to en-US")
	assert.NotEmpty(t, T("ja", Not18Plus))
	assert.NotEqual(t, T("en-US", Not18Plus), T("de", Not18Plus))
}

func TestEveryLocaleCoversEveryKey(t *testing.T) {
	keys := []Key{
		AlreadyVerified, RecheckStarted, RoleAssigned, SetupMissing,
		Not18Plus, CodeNotFound, ClaimConflict, NicknameForbidden,
	}
	for _, locale := range Supported() {
		for _, key := range keys {
			assert.NotEmpty(t, tables[locale][key], "%s missing %s", locale, key)
		}
	}
}
