package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chaz8081/scooter-ble/internal/ble"
	"github.com/chaz8081/scooter-ble/internal/ble/register"
)

// registerClient is the part of *ble.Client the CLI drives.
type registerClient interface {
	Read(ctx context.Context, addr register.Address) (register.Value, error)
	Write(ctx context.Context, addr register.Address, data []byte) error
}

type write struct {
	reg  register.Register
	data []byte
}

// plan is what one invocation does: writes first, then reads.
// An empty plan dumps every readable register.
type plan struct {
	writes []write
	reads  []register.Register
}

func (p *plan) dump() bool {
	return len(p.writes) == 0 && len(p.reads) == 0
}

func buildPlan(opts *options) (*plan, error) {
	p := &plan{}
	for _, s := range opts.sets {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: want name=value", s)
		}
		r, ok := register.Lookup(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("--set %q: %w", s, register.ErrUnknownRegister)
		}
		data, err := r.ParseWrite(value)
		if err != nil {
			return nil, fmt.Errorf("--set %s: %w", r.Name, err)
		}
		p.writes = append(p.writes, write{reg: r, data: data})
	}

	for _, r := range register.Catalog() {
		if set := opts.registers[r.Name]; set == nil || !*set {
			continue
		}
		if r.Readable() {
			p.reads = append(p.reads, r)
			continue
		}
		// Write-only control registers are triggered by writing 1.
		data, err := r.ParseWrite("1")
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", r.Name, err)
		}
		p.writes = append(p.writes, write{reg: r, data: data})
	}
	return p, nil
}

// execute runs the plan against c. Request-level failures are reported
// per register and the run continues; a lost session stops it.
func (p *plan) execute(ctx context.Context, out io.Writer, c registerClient) error {
	var errs []error

	for _, w := range p.writes {
		if err := c.Write(ctx, w.reg.Address, w.data); err != nil {
			if ble.IsConnectionError(err) || ctx.Err() != nil {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", w.reg.Name, err))
			fmt.Fprintf(out, "%-36s error: %v\n", w.reg.Description, err)
			continue
		}
		fmt.Fprintf(out, "%-36s ok\n", w.reg.Description)
	}

	// Several catalog entries share an address; read each one once.
	values := make(map[register.Address]register.Value)
	failed := make(map[register.Address]error)
	read := func(addr register.Address) (register.Value, error) {
		if v, ok := values[addr]; ok {
			return v, nil
		}
		if err, ok := failed[addr]; ok {
			return register.Value{}, err
		}
		v, err := c.Read(ctx, addr)
		if err != nil {
			failed[addr] = err
			return v, err
		}
		values[addr] = v
		return v, nil
	}

	reads := p.reads
	if p.dump() {
		serial, _ := register.Lookup("serial")
		v, err := read(serial.Address)
		if err != nil && (ble.IsConnectionError(err) || ctx.Err() != nil) {
			return err
		}
		if err == nil {
			printHeader(out, v)
		}
		for _, r := range register.Catalog() {
			if r.Readable() {
				reads = append(reads, r)
			}
		}
	}

	for _, r := range reads {
		v, err := read(r.Address)
		if err != nil {
			if ble.IsConnectionError(err) || ctx.Err() != nil {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
			fmt.Fprintf(out, "%-36s error: %v\n", r.Description, err)
			continue
		}
		fmt.Fprintf(out, "%-36s %s\n", r.Description, r.Format(v))
	}

	return errors.Join(errs...)
}

// printHeader prints the model line decoded from the serial number.
func printHeader(out io.Writer, serial register.Value) {
	s, err := register.ParseSerial(serial.Text)
	if err != nil {
		fmt.Fprintf(out, "Scooter %s\n\n", serial.Text)
		return
	}
	fmt.Fprintf(out, "%s, serial %s, produced %s\n\n", s, serial.Text, s.ProductionDate().Format("2006-01-02"))
}
