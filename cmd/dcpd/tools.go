package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/message"
	"github.com/machinefabric/dcp-go/router"
)

// maxRepeat bounds stream.repeat so one call cannot pin a connection.
const maxRepeat = 100_000

var (
	echoSchema = message.MustSchema(
		message.ArgSpec{Name: "msg", Type: message.ArgString, Required: true},
	)
	repeatSchema = message.MustSchema(
		message.ArgSpec{Name: "msg", Type: message.ArgString, Required: true},
		message.ArgSpec{Name: "n", Type: message.ArgInt32, Required: true},
	)
)

// registerBuiltins installs the tools every dcpd instance serves.
func registerBuiltins(r *router.Router) {
	r.MustRegister("echo", router.HandlerFunc(echoTool), router.WithSchema(echoSchema))
	r.MustRegister("stream.repeat", router.HandlerFunc(repeatTool),
		router.WithSchema(repeatSchema), router.WithCapability(capability.Streaming))
	r.MustRegister("sys.tools", router.HandlerFunc(func(ctx context.Context, call *router.Call, w router.ResponseWriter) error {
		body, err := json.Marshal(r.Tools())
		if err != nil {
			return err
		}
		return w.Reply(body)
	}))
}

func echoTool(ctx context.Context, call *router.Call, w router.ResponseWriter) error {
	arg, _ := call.Arg("msg")
	msg, err := arg.AsString()
	if err != nil {
		return err
	}
	return w.Reply([]byte(msg))
}

func repeatTool(ctx context.Context, call *router.Call, w router.ResponseWriter) error {
	msgArg, _ := call.Arg("msg")
	msg, err := msgArg.AsString()
	if err != nil {
		return err
	}
	nArg, _ := call.Arg("n")
	n, err := nArg.AsInt32()
	if err != nil {
		return err
	}
	if n < 0 || n > maxRepeat {
		return fmt.Errorf("n must be in [0, %d], got %d", maxRepeat, n)
	}

	sw, err := w.OpenStream()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		if err := sw.Write(ctx, []byte(msg)); err != nil {
			return err
		}
	}
	return sw.Close()
}
