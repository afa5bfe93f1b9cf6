package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestJSONColumnsParseAsJSON(t *testing.T) {
	cache := &sync.Map{}

	cases := []struct {
		model interface{}
		field string
	}{
		{&SeniorState{}, "CheckInSchedules"},
		{&Activity{}, "Metadata"},
	}
	for _, c := range cases {
		s, err := schema.Parse(c.model, cache, schema.NamingStrategy{})
		require.NoError(t, err)
		f := s.LookUpField(c.field)
		require.NotNil(t, f, c.field)
		assert.Equal(t, schema.DataType("json"), f.DataType, c.field)
	}
}

func TestStringListNilStoresEmptyArray(t *testing.T) {
	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var out StringList
	require.NoError(t, out.Scan([]byte(`["9:00 AM"]`)))
	assert.True(t, out.Contains("9:00 AM"))
}
