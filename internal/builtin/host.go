package builtin

import (
	"strings"

	"github.com/wippyai/carrica/container"
	"github.com/wippyai/carrica/errors"
)

// maxCallArgs is the largest argument count Host.call accepts.
const maxCallArgs = 8

func hostMethods() []entry {
	ms := []entry{
		{sig: "name", static: true, fn: hostName},
		{sig: "const(_)", static: true, fn: hostConst},
		{sig: "ref(_)", static: true, fn: hostRef},
	}
	for n := 0; n <= maxCallArgs; n++ {
		ms = append(ms, entry{sig: callSignature(n), static: true, fn: hostCall(n)})
	}
	return ms
}

func callSignature(n int) string {
	return "call(" + strings.Repeat("_,", n) + "_)"
}

func hostName(c *call) error {
	c.vm.SetSlotString(0, c.env.HostName())
	return nil
}

// hostConst returns a host constant, or null when none is set.
func hostConst(c *call) error {
	name, err := c.str(1)
	if err != nil {
		return err
	}
	v, ok := c.env.Const(name)
	if !ok {
		c.vm.SetSlotNull(0)
		return nil
	}
	return c.m.Push(0, v)
}

func hostRef(c *call) error {
	name, err := c.str(1)
	if err != nil {
		return err
	}
	c.vm.SetSlotDouble(0, float64(c.env.FuncRef(name)))
	return nil
}

func hostCall(n int) method {
	return func(c *call) error {
		ref, err := c.integer(1)
		if err != nil {
			return err
		}
		if ref < 0 {
			return errors.New(errors.PhaseHost, errors.KindNotFound).
				Category(errors.CategoryGuest).
				Path("Host", c.sig).
				Detail("invalid function reference %d", ref).
				Build()
		}
		args := make([]container.Value, n)
		for i := range args {
			if args[i], err = c.m.Pull(i + 2); err != nil {
				return err
			}
		}
		res, err := c.env.CallFunc(ref, args)
		if err != nil {
			return err
		}
		return c.m.Push(0, res)
	}
}
