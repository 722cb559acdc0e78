package transformer

import (
	"fmt"

	"github.com/bwmarrin/snowflake"

	"sparkify/internal/model"
)

// IDSource assigns songplay_id values.
type IDSource interface {
	// NextID returns the id for the event at zero-based position seq of the
	// current file.
	NextID(seq int) int64
}

// SequenceIDs uses the per-file sequence index as songplay_id.
//
// Ids repeat across files and across runs. Loading a second file into a
// store that already holds songplay_id 0 fails on the primary key.
type SequenceIDs struct{}

func (SequenceIDs) NextID(seq int) int64 { return int64(seq) }

// SnowflakeIDs issues time-ordered 64-bit ids that are unique across files
// and runs as long as concurrent writers use distinct node numbers.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates an id source for node (0..1023).
func NewSnowflakeIDs(node int64) (*SnowflakeIDs, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &SnowflakeIDs{node: n}, nil
}

func (s *SnowflakeIDs) NextID(int) int64 { return s.node.Generate().Int64() }

// Assembler builds songplay fact rows.
type Assembler struct {
	IDs IDSource
}

// Assemble combines a retained event, its resolution and its sequence index.
// A nil IDs field falls back to SequenceIDs.
func (a Assembler) Assemble(ev model.Event, res model.Resolution, seq int, sourceFile string) model.Songplay {
	ids := a.IDs
	if ids == nil {
		ids = SequenceIDs{}
	}

	sp := model.Songplay{
		SongplayID: ids.NextID(seq),
		StartTime:  ev.TS,
		UserID:     ev.UserID,
		Level:      ev.Level,
		SessionID:  ev.SessionID,
		Location:   ev.Location,
		UserAgent:  ev.UserAgent,
		Seq:        seq,
		SourceFile: sourceFile,
	}
	if res.Matched() {
		sp.SongID = res.SongID
		sp.ArtistID = res.ArtistID
	}
	return sp
}
