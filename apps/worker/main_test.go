package main

import (
	"strings"
	"testing"

	"github.com/smallbiznis/atlas/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequest(t *testing.T) {
	req, err := readRequest(`{"operation":"sync","float_id":"2902226"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, syncer.OperationSync, req.Operation)
	require.NotNil(t, req.FloatID)
	assert.Equal(t, syncer.FloatID(2902226), *req.FloatID)

	req, err = readRequest("", strings.NewReader(`{"operation":"update"}`))
	require.NoError(t, err)
	assert.Equal(t, syncer.OperationUpdate, req.Operation)

	req, err = readRequest("", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, syncer.OperationUpdate, req.Operation)

	_, err = readRequest(`{"operation":"sync"}`, nil)
	assert.ErrorIs(t, err, syncer.ErrFloatIDRequired)

	_, err = readRequest(`{not json`, nil)
	assert.Error(t, err)
}
