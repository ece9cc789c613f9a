package delegation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSegmentOpts = SegmentOptions{MinMessageLength: 80, MinSegmentLength: 20}

func TestSegmentNumberedList(t *testing.T) {
	got := Segment("1. Write a function\n2. Explain its complexity", testSegmentOpts)
	require.Len(t, got, 2)
	assert.Equal(t, "Write a function", got[0])
	assert.Equal(t, "Explain its complexity", got[1])
}

func TestSegmentNumberedListParenStyle(t *testing.T) {
	got := Segment("1) Draft the schema\n2) Review the indexes\n3) Write migration notes", testSegmentOpts)
	assert.Len(t, got, 3)
}

func TestSegmentSingleListItemNotSplit(t *testing.T) {
	got := Segment("1. Just the one thing", testSegmentOpts)
	assert.Nil(t, got)
}

func TestSegmentSimpleMessageYieldsNothing(t *testing.T) {
	got := Segment("Please summarize this paragraph", testSegmentOpts)
	assert.Nil(t, got)
}

func TestSegmentConnectorSplit(t *testing.T) {
	msg := "Refactor the database access layer to use prepared statements " +
		"and also write a detailed migration guide for the operations team"
	got := Segment(msg, testSegmentOpts)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "Refactor the database")
	assert.Contains(t, got[1], "migration guide")
}

func TestSegmentConnectorRequiresMinMessageLength(t *testing.T) {
	got := Segment("Do this and also do that", testSegmentOpts)
	assert.Nil(t, got, "short messages are never connector-split")
}

func TestSegmentConnectorRejectsShortParts(t *testing.T) {
	msg := "Here is a very long preamble that easily clears the overall message length gate, " +
		"and also ok"
	got := Segment(msg, testSegmentOpts)
	assert.Nil(t, got, "a part below the segment minimum rejects the split")
}

func TestSegmentMixedIntentWholeMessage(t *testing.T) {
	// Code and analysis families both present, no list, no connectors.
	msg := "Implement the caching function and explain the complexity trade-off it introduces"
	got := Segment(msg, SegmentOptions{MinMessageLength: 200, MinSegmentLength: 20})
	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0])
}

func TestSegmentHomogeneousRequestNeverSplit(t *testing.T) {
	// Only the code family matches: one intent, no candidate.
	got := Segment("Fix the bug in this program", SegmentOptions{MinMessageLength: 200, MinSegmentLength: 20})
	assert.Nil(t, got)
}

func TestSegmentListWinsOverConnectors(t *testing.T) {
	msg := "1. Implement the parser for the configuration file format\n" +
		"2. Document the grammar and also give usage examples for each directive"
	got := Segment(msg, testSegmentOpts)
	require.Len(t, got, 2, "numbered list takes priority, connector inside an item is kept")
	assert.Contains(t, got[1], "and also")
}
