package blockid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegister(t *testing.T) {
	r := NewRegistry()

	res := r.Register("create-account")
	assert.Equal(t, Accepted, res.Verdict)
	assert.Equal(t, "create_account", res.Key)
	assert.Empty(t, res.CollidingID)

	// Exact same spelling again.
	res = r.Register("create-account")
	assert.Equal(t, Duplicate, res.Verdict)
	assert.Equal(t, "create-account", res.CollidingID)

	// Different spelling, same normalized key.
	res = r.Register("create_account")
	assert.Equal(t, NormalizationCollision, res.Verdict)
	assert.Equal(t, "create_account", res.Key)
	assert.Equal(t, "create-account", res.CollidingID)

	// Unrelated id is unaffected.
	res = r.Register("create_vpc")
	assert.Equal(t, Accepted, res.Verdict)

	assert.Equal(t, 2, r.Len())
}

func TestLookupUsesNormalizedKey(t *testing.T) {
	r := NewRegistry()
	r.Register("deploy-app")

	raw, ok := r.Lookup("deploy_app")
	assert.True(t, ok)
	assert.Equal(t, "deploy-app", raw)

	raw, ok = r.Lookup("deploy-app")
	assert.True(t, ok)
	assert.Equal(t, "deploy-app", raw)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestCollisionKeepsFirstSpelling(t *testing.T) {
	r := NewRegistry()
	r.Register("a-b")
	r.Register("a_b")

	raw, ok := r.Lookup("a-b")
	assert.True(t, ok)
	assert.Equal(t, "a-b", raw)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "normalization collision", NormalizationCollision.String())
}
