// Package render draws a bughouse board, with both players' drop pools, as PNG.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/bughouse-server/internal/rules"
)

const (
	squareSize  = 64
	boardSize   = squareSize * 8
	sideMargin  = 24
	handHeight  = 56
	handPiece   = 40
	labelOffset = 14

	MinSize = 128
	MaxSize = 1024
)

// Options controls one rendering.
type Options struct {
	// Size is the output width in pixels; zero keeps the native size.
	Size int
	// Flip draws the board from black's side.
	Flip bool
	// LastMove is a UCI move to highlight.
	LastMove string
	// TopHand and BottomHand are the drop pools of the players drawn at
	// the top and bottom edges, as piece letters.
	TopHand     []string
	BottomHand  []string
	TopLabel    string
	BottomLabel string
}

// Renderer turns positions into PNG images.
type Renderer struct{}

func New() *Renderer { return &Renderer{} }

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	highlightFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	labelColor      = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordColor      = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// RenderPNG draws fen with the hands in opts.
func (r *Renderer) RenderPNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	board, err := rules.BoardFromFEN(fen)
	if err != nil {
		return nil, err
	}

	totalWidth := boardSize + sideMargin*2
	totalHeight := boardSize + handHeight*2 + sideMargin
	origin := image.Point{X: sideMargin, Y: handHeight}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawSquares(img, origin, opts.Flip)
	if from, to, ok := parseUCISquares(opts.LastMove); ok {
		drawSquareOverlay(img, from, origin, opts.Flip, highlightFill)
		drawSquareOverlay(img, to, origin, opts.Flip, highlightFill)
	}
	if err := drawPieces(img, board, origin, opts.Flip); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, opts.Flip)

	// the player at the bottom owns the side being viewed from
	bottomWhite := !opts.Flip
	if err := drawHand(img, opts.TopHand, !bottomWhite, opts.TopLabel, 0); err != nil {
		return nil, err
	}
	if err := drawHand(img, opts.BottomHand, bottomWhite, opts.BottomLabel, origin.Y+boardSize); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var out image.Image = img
	if size := clampSize(opts.Size); size > 0 && size != totalWidth {
		h := size * totalHeight / totalWidth
		scaled := image.NewRGBA(image.Rect(0, 0, size, h))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func clampSize(size int) int {
	switch {
	case size <= 0:
		return 0
	case size < MinSize:
		return MinSize
	case size > MaxSize:
		return MaxSize
	default:
		return size
	}
}

func drawSquares(dst imagedraw.Image, origin image.Point, flip bool) {
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			sq := nchess.NewSquare(nchess.File(file), nchess.Rank(rank))
			imagedraw.Draw(dst, squareRect(sq, origin, flip), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point, flip bool) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, origin, flip), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawSquareOverlay(img *image.RGBA, sq nchess.Square, origin image.Point, flip bool, clr color.Color) {
	imagedraw.Draw(img, squareRect(sq, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawHand(img *image.RGBA, pieces []string, white bool, label string, top int) error {
	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13, Src: image.NewUniform(labelColor)}
	x := sideMargin
	if label = strings.TrimSpace(label); label != "" {
		drawer.Dot = fixed.P(x, top+labelOffset)
		drawer.DrawString(label)
	}
	y := top + labelOffset + 2
	for _, letter := range pieces {
		piece, ok := pieceFromLetter(strings.ToLower(letter), white)
		if !ok {
			continue
		}
		if x+handPiece > sideMargin+boardSize {
			break
		}
		pimg, err := renderPieceImage(piece, handPiece)
		if err != nil {
			return err
		}
		imagedraw.Draw(img, image.Rect(x, y, x+handPiece, y+handPiece), pimg, image.Point{}, imagedraw.Over)
		x += handPiece - 8
	}
	return nil
}

func drawCoordinates(dst imagedraw.Image, origin image.Point, flip bool) {
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13, Src: image.NewUniform(coordColor)}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		rank := nchess.Rank(i)
		file := nchess.File(i)
		r := squareRect(nchess.NewSquare(nchess.FileA, rank), origin, flip)
		drawCenteredText(drawer, rank.String(), origin.X-sideMargin/2, r.Min.Y+squareSize/2+ascent/2)
		f := squareRect(nchess.NewSquare(file, nchess.Rank1), origin, flip)
		drawCenteredText(drawer, file.String(), f.Min.X+squareSize/2, origin.Y-4)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if flip {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func parseUCISquares(uci string) (nchess.Square, nchess.Square, bool) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 {
		return 0, 0, false
	}
	from, ok1 := parseSquare(uci[0:2])
	to, ok2 := parseSquare(uci[2:4])
	return from, to, ok1 && ok2
}

func parseSquare(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}
