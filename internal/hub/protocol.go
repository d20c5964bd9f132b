package hub

import (
	"encoding/json"
	"errors"

	"github.com/park285/bughouse-server/internal/bughouse"
	"github.com/park285/bughouse-server/pkg/bughousedto"
)

// SnapshotPayload converts a join snapshot to its wire form.
func SnapshotPayload(snap bughouse.Snapshot, connID string) bughousedto.InitGame {
	players := make(map[string]bughousedto.Player, len(snap.Players))
	for seat, name := range snap.Players {
		players[string(seat)] = bughousedto.Player{Name: name}
	}
	return bughousedto.InitGame{
		Session:   snap.Name,
		ConnID:    connID,
		FEN1:      snap.FEN1,
		FEN2:      snap.FEN2,
		Turn1:     string(snap.Turn1),
		Turn2:     string(snap.Turn2),
		Players:   players,
		Hands:     handsPayload(snap.Hands),
		Terminal1: string(snap.Terminal1),
		Terminal2: string(snap.Terminal2),
		MatchOver: snap.MatchOver,
	}
}

func handsPayload(h bughouse.HandsSnapshot) bughousedto.Hands {
	out := make(bughousedto.Hands, len(h))
	for k, v := range h {
		out[k] = append([]string{}, v...)
	}
	return out
}

func gameChangedPayload(res bughouse.MoveResult) bughousedto.GameChanged {
	return bughousedto.GameChanged{
		Board:     int(res.Board),
		FEN:       res.FEN,
		Move:      res.UCI,
		SAN:       res.SAN,
		Seat:      string(res.Seat),
		Terminal:  string(res.Terminal),
		MatchOver: res.MatchOver,
		Hands:     handsPayload(res.Hands),
	}
}

func pieceCapturedPayload(res bughouse.MoveResult) bughousedto.PieceCaptured {
	return bughousedto.PieceCaptured{
		Board: int(res.Board),
		Piece: string(res.Captured),
		Hand:  res.HandKey.WireKey(),
		Hands: handsPayload(res.Hands),
	}
}

func encodeEnvelope(eventType string, payload any) ([]byte, error) {
	env, err := bughousedto.NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// asReject maps any coordinator error onto the client-facing taxonomy.
func asReject(err error) *bughouse.Reject {
	var rej *bughouse.Reject
	if errors.As(err, &rej) {
		return rej
	}
	return bughouse.IllegalMove(bughouse.ReasonRules, err)
}
