package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootPolicy(t *testing.T) {
	p := RootPolicy{Key: "gov-root"}

	assert.True(t, p.Authorize([]string{"gov-root"}))
	assert.True(t, p.Authorize([]string{"wrong", "gov-root"}))
	assert.False(t, p.Authorize([]string{"wrong"}))
	assert.False(t, p.Authorize(nil))
}

func TestRootPolicyEmptyKeyNeverAuthorizes(t *testing.T) {
	p := RootPolicy{}
	assert.False(t, p.Authorize([]string{""}))
}

func TestNOfMPolicy(t *testing.T) {
	p := NOfMPolicy{Keys: []string{"a", "b", "c"}, Threshold: 2}

	assert.True(t, p.Authorize([]string{"a", "c"}))
	assert.True(t, p.Authorize([]string{"c", "b", "a"}))
	assert.False(t, p.Authorize([]string{"a"}))
	assert.False(t, p.Authorize([]string{"a", "a"}), "the same key twice is one signer")
	assert.False(t, p.Authorize([]string{"x", "y"}))
}

func TestNOfMPolicyDegenerate(t *testing.T) {
	assert.False(t, (NOfMPolicy{Keys: []string{"a"}, Threshold: 0}).Authorize([]string{"a"}))
	assert.False(t, (NOfMPolicy{Threshold: 1}).Authorize([]string{"a"}))
}

func TestAnyOfPolicy(t *testing.T) {
	p := AnyOfPolicy([]string{"a", "b"})

	assert.True(t, p.Authorize([]string{"b"}))
	assert.False(t, p.Authorize([]string{"c"}))
}
