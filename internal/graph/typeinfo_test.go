package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeInfoIsA(t *testing.T) {
	assert.True(t, TypeObja.IsA(TypeObja.ID))
	assert.True(t, TypeObja.IsA(TypeObj.ID), "obja derives from obj")
	assert.True(t, TypeObja.IsA(TypeFile.ID), "obja derives from file transitively")
	assert.False(t, TypeObja.IsA(TypeBMI.ID))
}

func TestTypeInfoChainMostDerivedFirst(t *testing.T) {
	chain := TypeBMIs.Chain()
	var ids []string
	for _, ti := range chain {
		ids = append(ids, ti.ID)
	}
	assert.Equal(t, []string{"bmis", "bmi", "file"}, ids)
}

func TestTypeInfoNilSafeIsA(t *testing.T) {
	var ti *TypeInfo
	assert.False(t, ti.IsA("anything"))
}
