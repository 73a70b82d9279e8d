package mainthread

import (
	"context"
	"errors"
	"testing"

	"go.viam.com/test"

	"go.viam.com/texturebridge/logging"
)

func TestDefault(t *testing.T) {
	SetDefault(nil)
	_, err := Default()
	test.That(t, errors.Is(err, ErrDispatchUnavailable), test.ShouldBeTrue)

	d := New(logging.NewTestLogger(t))
	SetDefault(d)
	defer SetDefault(nil)
	_, err = Default()
	test.That(t, errors.Is(err, ErrDispatchUnavailable), test.ShouldBeTrue)

	test.That(t, d.Start(), test.ShouldBeNil)
	defer d.Stop()
	got, err := Default()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, d)
}

func TestMainRunsDispatcherOnCaller(t *testing.T) {
	d := New(logging.NewTestLogger(t))
	var onThread bool
	err := Main(d, func() error {
		var err error
		onThread, err = Call(context.Background(), d, func() (bool, error) { return d.OnThread(), nil }, nil)
		return err
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, onThread, test.ShouldBeTrue)
	test.That(t, d.Running(), test.ShouldBeFalse)

	errBad := errors.New("bad")
	err = Main(d, func() error { return errBad })
	test.That(t, err, test.ShouldEqual, errBad)
}
