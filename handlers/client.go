package handlers

import (
	"github.com/liuxd6825/testrender/common"
)

// Ensure DemoClient implements the Client interface.
var _ common.Client = &DemoClient{}

// ClientOptions configure NewDemoClient. Nil handlers are left out.
type ClientOptions struct {
	Render   *PaintHandler
	Load     *LoadHandler
	Request  *LocalContentHandler
	Messages *MessageLogger
}

// DemoClient is the per view handler set of the demo.
type DemoClient struct {
	render   common.RenderHandler
	load     common.LoadHandler
	request  common.RequestHandler
	messages common.ProcessMessageHandler
}

// NewDemoClient returns a client with the handlers of opts.
func NewDemoClient(opts ClientOptions) *DemoClient {
	c := &DemoClient{}
	if opts.Render != nil {
		c.render = opts.Render
	}
	if opts.Load != nil {
		c.load = opts.Load
	}
	if opts.Request != nil {
		c.request = opts.Request
	}
	if opts.Messages != nil {
		c.messages = opts.Messages
	}

	return c
}

// RenderHandler returns the paint handler.
func (c *DemoClient) RenderHandler() common.RenderHandler { return c.render }

// LoadHandler returns the load handler.
func (c *DemoClient) LoadHandler() common.LoadHandler { return c.load }

// RequestHandler returns the local content handler when interception is on.
func (c *DemoClient) RequestHandler() common.RequestHandler { return c.request }

// ProcessMessageHandler returns the browser process message handler.
func (c *DemoClient) ProcessMessageHandler() common.ProcessMessageHandler { return c.messages }
