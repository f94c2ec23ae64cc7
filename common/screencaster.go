/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/image/draw"

	"github.com/liuxd6825/testrender/log"
)

// Screencaster turns the screencast of a view into OnPaint calls.
// Every frame is scaled to the view size and reported as a whole.
type Screencaster struct {
	ctx     context.Context
	session session
	view    *View
	logger  *log.Logger

	width, height int
}

// NewScreencaster creates a screencaster producing width x height paints.
func NewScreencaster(ctx context.Context, s session, v *View, width, height int, logger *log.Logger) *Screencaster {
	return &Screencaster{
		ctx:     ctx,
		session: s,
		view:    v,
		logger:  logger,
		width:   width,
		height:  height,
	}
}

func (s *Screencaster) start() error {
	action := page.StartScreencast().
		WithFormat(page.ScreencastFormatPng).
		WithMaxWidth(int64(s.width)).
		WithMaxHeight(int64(s.height)).
		WithEveryNthFrame(1)
	if err := action.Do(cdp.WithExecutor(s.ctx, s.session)); err != nil {
		return fmt.Errorf("starting screencast: %w", err)
	}

	return nil
}

func (s *Screencaster) stop(ctx context.Context) error {
	if err := page.StopScreencast().Do(cdp.WithExecutor(ctx, s.session)); err != nil {
		return fmt.Errorf("stopping screencast: %w", err)
	}

	return nil
}

func (s *Screencaster) initEvents() {
	chHandler := make(chan Event)
	s.session.on(s.ctx, []string{cdproto.EventPageScreencastFrame}, chHandler)

	s.view.wg.Add(1)
	go func() {
		defer s.view.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-s.session.Done():
				return
			case event := <-chHandler:
				if ev, ok := event.data.(*page.EventScreencastFrame); ok {
					s.onFrame(ev)
				}
			}
		}
	}()
}

func (s *Screencaster) onFrame(ev *page.EventScreencastFrame) {
	// The engine sends the next frame only after this one is acknowledged.
	if err := page.ScreencastFrameAck(ev.SessionID).Do(cdp.WithExecutor(s.ctx, s.session)); err != nil {
		s.logger.Debugf("Screencaster:onFrame", "acknowledging frame %d: %v", ev.SessionID, err)
	}

	rh := s.view.renderHandler()
	if rh == nil {
		return
	}

	_, span := TraceAPICall(s.ctx, s.view.ID().String(), "view.paint")
	defer span.End()
	span.SetAttributes(
		attribute.Int("paint.width", s.width),
		attribute.Int("paint.height", s.height),
	)

	buf, err := decodeFrame(ev.Data, s.width, s.height)
	if err != nil {
		s.logger.Errorf("Screencaster:onFrame", "%v", spanRecordErrorf(span, "decoding screencast frame: %w", err))
		return
	}

	pe := &PaintEvent{
		Type:       PaintElementView,
		DirtyRects: []Rect{{Width: s.width, Height: s.height}},
		Buffer:     buf,
		Width:      s.width,
		Height:     s.height,
	}
	dispatchWait(s.ctx, s.view.dispatch, func() { rh.OnPaint(s.view, pe) })
}

// decodeFrame decodes a base64 PNG screencast frame into a tightly packed
// BGRA buffer of width x height pixels.
func decodeFrame(data string, width, height int) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}

	return toBGRA(img, width, height), nil
}

// toBGRA draws src into a width x height BGRA buffer, scaling it when its
// size differs.
func toBGRA(src image.Image, width, height int) []byte {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	sb := src.Bounds()
	if sb.Dx() == width && sb.Dy() == height {
		draw.Copy(dst, image.Point{}, src, sb, draw.Src, nil)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	}
	pix := dst.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}

	return pix
}
