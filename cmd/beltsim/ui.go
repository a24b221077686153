package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

const (
	// cellWidth is the number of terminal columns one grid cell occupies.
	cellWidth      = 3
	redrawInterval = 33 * time.Millisecond
	emptyGlyph     = '·'
	helpLine       = "arrows move  space/enter place or rotate  s spawn  q quit"
)

var (
	styleEmpty  = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleBelt   = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleItem   = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleStatus = tcell.StyleDefault.Foreground(tcell.ColorWhite)
)

type ui struct {
	registry *core.Registry
	bounds   model.Bounds
	log      logging.Logger
	cursor   model.Coord
	status   string
}

func newUI(registry *core.Registry, bounds model.Bounds, log logging.Logger) *ui {
	return &ui{
		registry: registry,
		bounds:   bounds,
		log:      log,
		cursor:   model.Coord{X: bounds.Width / 2, Y: bounds.Height / 2},
		status:   helpLine,
	}
}

// loop redraws at the given interval and dispatches input until the user
// quits or ctx ends.
func (u *ui) loop(ctx context.Context, screen tcell.Screen, interval time.Duration) {
	events := make(chan tcell.Event, 64)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	u.draw(screen)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if !u.handleEvent(ev, screen) {
				return
			}
		case <-ticker.C:
			u.draw(screen)
		}
	}
}

func (u *ui) handleEvent(ev tcell.Event, screen tcell.Screen) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		return u.handleKey(ev.Key(), ev.Rune())
	case *tcell.EventMouse:
		if ev.Buttons()&tcell.Button1 != 0 {
			x, y := ev.Position()
			u.handleClick(x, y)
		}
	case *tcell.EventResize:
		screen.Sync()
	}
	return true
}

// handleKey applies one key press and reports whether the UI keeps running.
func (u *ui) handleKey(key tcell.Key, r rune) bool {
	switch key {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyUp:
		u.move(model.Up)
	case tcell.KeyDown:
		u.move(model.Down)
	case tcell.KeyLeft:
		u.move(model.Left)
	case tcell.KeyRight:
		u.move(model.Right)
	case tcell.KeyEnter:
		u.toggle(u.cursor)
	case tcell.KeyRune:
		switch r {
		case 'q':
			return false
		case ' ':
			u.toggle(u.cursor)
		case 's':
			u.spawn(u.cursor)
		}
	}
	return true
}

// handleClick maps screen coordinates to a cell and toggles it.
func (u *ui) handleClick(x, y int) {
	at := model.Coord{X: x / cellWidth, Y: y}
	if !u.bounds.Contains(at) {
		return
	}
	u.cursor = at
	u.toggle(at)
}

func (u *ui) move(d model.Direction) {
	next := u.cursor.Neighbor(d)
	if u.bounds.Contains(next) {
		u.cursor = next
	}
}

func (u *ui) toggle(at model.Coord) {
	b, created := u.registry.PlaceOrRotate(at)
	if created {
		u.status = fmt.Sprintf("placed belt at %v facing %v", at, b.Direction())
	} else {
		u.status = fmt.Sprintf("rotated belt at %v to %v", at, b.Direction())
	}
}

func (u *ui) spawn(at model.Coord) {
	item, ok := u.registry.SpawnItem(at)
	if !ok {
		u.status = fmt.Sprintf("no belt at %v", at)
		return
	}
	u.status = fmt.Sprintf("spawned item %d at %v", item.ID, at)
	u.log.Debug(context.Background(), "item spawned from terminal", logging.Int("item_id", item.ID))
}

// glyph is what one cell shows: an empty marker, the belt's arrow, or the
// last digit of the ID of the item furthest along the belt.
func glyph(cell core.CellState, occupied bool) (rune, tcell.Style) {
	if !occupied {
		return emptyGlyph, styleEmpty
	}
	if len(cell.Items) == 0 {
		return cell.Direction.Arrow(), styleBelt
	}
	lead := cell.Items[0]
	for _, p := range cell.Items[1:] {
		if p.Steps > lead.Steps {
			lead = p
		}
	}
	id := lead.Item.ID
	if id < 0 {
		id = -id
	}
	return rune('0' + id%10), styleItem
}

func (u *ui) draw(screen tcell.Screen) {
	snap := u.registry.Snapshot()
	screen.Clear()

	for y := 0; y < u.bounds.Height; y++ {
		for x := 0; x < u.bounds.Width; x++ {
			at := model.Coord{X: x, Y: y}
			cell, occupied := snap.Cell(at)
			ch, style := glyph(cell, occupied)
			if at == u.cursor {
				style = style.Reverse(true)
			}
			col := x * cellWidth
			screen.SetContent(col, y, ' ', nil, style)
			screen.SetContent(col+1, y, ch, nil, style)
			screen.SetContent(col+2, y, ' ', nil, style)
		}
	}

	info := fmt.Sprintf("cursor %v  belts %d  in flight %d", u.cursor, len(snap.Cells), len(snap.InFlight))
	drawText(screen, 0, u.bounds.Height+1, info, styleStatus)
	drawText(screen, 0, u.bounds.Height+2, u.status, styleStatus)
	screen.Show()
}

func drawText(screen tcell.Screen, x, y int, text string, style tcell.Style) {
	for _, r := range text {
		screen.SetContent(x, y, r, nil, style)
		x++
	}
}
