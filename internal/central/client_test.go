package central

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/permission"
	"github.com/srg/blecentral/internal/radio/radiotest"
	"github.com/stretchr/testify/suite"
)

const scanPermission = "android.permission.BLUETOOTH_SCAN"

var (
	s1 = device.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	c1 = device.MustParseUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
	d1 = device.MustParseUUID("2902")
)

func sampleLayout() []device.ServiceDef {
	return []device.ServiceDef{
		{
			UUID: s1,
			Characteristics: []device.CharacteristicDef{
				{UUID: c1, Properties: device.PropRead | device.PropNotify, Descriptors: []uuid.UUID{d1}},
			},
		},
	}
}

type result[T any] struct {
	value T
	err   error
}

func async[T any](fn func() (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn()
		ch <- result[T]{v, err}
	}()
	return ch
}

func asyncErr(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

// ClientTestSuite drives the client against a manual radio: every link event and
// completion is emitted explicitly by the test.
type ClientTestSuite struct {
	suite.Suite

	radio    *radiotest.Radio
	platform *permission.StaticPlatform
	client   *Client
	peer     *device.Peripheral
	ctx      context.Context
}

func (s *ClientTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s.ctx = context.Background()
	s.radio = radiotest.New()
	s.platform = permission.NewStaticPlatform(permission.AndroidS, scanPermission)
	gate := permission.NewGate(s.platform, permission.AndroidTable, logger)

	opts := DefaultOptions()
	opts.ConnectTimeout = 2 * time.Second
	opts.DisconnectTimeout = 2 * time.Second
	opts.TransactionTimeout = 2 * time.Second

	client, err := New(s.radio, gate, opts, logger)
	s.Require().NoError(err)
	s.client = client
	s.peer = device.NewPeripheral("peer-1", radiotest.Address("AA:BB:CC:DD:EE:FF"))
}

func (s *ClientTestSuite) TearDownTest() {
	s.radio.LinkDown(nil)
	s.NoError(s.client.Close())
}

func (s *ClientTestSuite) await(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		s.FailNow("call did not resolve")
		return nil
	}
}

func (s *ClientTestSuite) nextRequest() device.Request {
	req, ok := s.radio.NextRequest(time.Second)
	s.Require().True(ok, "no request reached the radio")
	return req
}

func (s *ClientTestSuite) connect() {
	attempts := len(s.radio.Connects())
	done := asyncErr(func() error { return s.client.Connect(s.ctx, s.peer) })
	s.Require().Eventually(func() bool { return len(s.radio.Connects()) > attempts && s.client.State() == Connecting }, time.Second, time.Millisecond)
	s.radio.LinkUp()
	s.Require().NoError(s.await(done))
	s.Require().Equal(Connected, s.client.State())
}

func (s *ClientTestSuite) discover() []device.ServiceDef {
	done := async(func() ([]device.ServiceDef, error) { return s.client.DiscoverServices(s.ctx) })
	req := s.nextRequest()
	s.Require().Equal(device.OpDiscover, req.Op)
	s.radio.CompleteDiscovery(req, sampleLayout())

	res := <-done
	s.Require().NoError(res.err)
	return res.value
}

func (s *ClientTestSuite) disconnect() {
	done := asyncErr(func() error { return s.client.Disconnect(s.ctx) })
	s.Require().Eventually(func() bool { return s.radio.Disconnects() > 0 }, time.Second, time.Millisecond)
	s.radio.LinkDown(nil)
	s.Require().NoError(s.await(done))
}

func (s *ClientTestSuite) TestConnectDiscoverReadDisconnect() {
	// GOAL: Verify the full happy path and teardown on disconnect
	//
	// TEST SCENARIO: connect → discover {S1:{C1:{D1}}} → read S1/C1 returns [0x01,0x02] → disconnect → read fails NotConnected

	s.connect()
	s.Equal(s.peer, s.client.Peripheral())

	services := s.discover()
	s.Equal(sampleLayout(), services)
	flat := device.FlattenServices(services)
	s.Equal([]uuid.UUID{s1}, flat.Services)
	s.Equal([]uuid.UUID{c1}, flat.Characteristics)
	s.Equal([]uuid.UUID{d1}, flat.Descriptors)

	read := async(func() ([]byte, error) { return s.client.ReadCharacteristic(s.ctx, s1, c1) })
	req := s.nextRequest()
	s.Equal(device.OpReadCharacteristic, req.Op)
	s.Equal(s1, req.Service)
	s.Equal(c1, req.Characteristic)
	s.radio.Complete(req, []byte{0x01, 0x02})
	res := <-read
	s.Require().NoError(res.err)
	s.Equal([]byte{0x01, 0x02}, res.value)

	s.disconnect()
	s.Equal(Disconnected, s.client.State())
	s.Nil(s.client.Services(), "disconnect MUST discard the service tree")
	s.Nil(s.client.Peripheral())

	_, err := s.client.ReadCharacteristic(s.ctx, s1, c1)
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)
}

func (s *ClientTestSuite) TestConnectWhileConnectingFailsInProgress() {
	first := asyncErr(func() error { return s.client.Connect(s.ctx, s.peer) })
	s.Require().Eventually(func() bool { return len(s.radio.Connects()) == 1 && s.client.State() == Connecting }, time.Second, time.Millisecond)

	err := s.client.Connect(s.ctx, s.peer)
	s.True(errors.Is(err, device.ErrOperationInProgress), "got %v", err)

	err = s.client.Disconnect(s.ctx)
	s.True(errors.Is(err, device.ErrOperationInProgress), "disconnect while connecting MUST report the outstanding connect, got %v", err)
	s.Zero(s.radio.Disconnects(), "rejected disconnect MUST NOT reach the radio")

	s.radio.LinkUp()
	s.NoError(s.await(first), "original connect MUST still resolve with its own outcome")
	s.Len(s.radio.Connects(), 1)
}

func (s *ClientTestSuite) TestConnectWhileConnectedFails() {
	s.connect()

	err := s.client.Connect(s.ctx, s.peer)
	s.True(errors.Is(err, device.ErrConnection), "got %v", err)
	s.True(errors.Is(err, device.ErrAlreadyConnected), "got %v", err)
	s.Equal(Connected, s.client.State())
}

func (s *ClientTestSuite) TestLinkFailureResolvesConnect() {
	done := asyncErr(func() error { return s.client.Connect(s.ctx, s.peer) })
	s.Require().Eventually(func() bool { return len(s.radio.Connects()) == 1 && s.client.State() == Connecting }, time.Second, time.Millisecond)

	s.radio.LinkFailed(errors.New("status 133"))

	err := s.await(done)
	s.True(errors.Is(err, device.ErrConnection), "got %v", err)
	s.Equal(Disconnected, s.client.State())

	s.connect()
}

func (s *ClientTestSuite) TestConnectTimeoutForcesDisconnected() {
	s.client.opts.ConnectTimeout = 30 * time.Millisecond

	err := s.client.Connect(s.ctx, s.peer)
	s.True(errors.Is(err, device.ErrConnection), "got %v", err)
	s.True(errors.Is(err, device.ErrTimeout), "got %v", err)
	s.Equal(Disconnected, s.client.State())
	s.Equal(1, s.radio.Disconnects(), "timed out attempt MUST be cancelled on the radio")

	s.radio.LinkUp()
	s.Never(func() bool { return s.client.State() == Connected }, 50*time.Millisecond, 5*time.Millisecond, "late link up MUST be ignored")
}

func (s *ClientTestSuite) TestReconnectAfterAbortedConnectIgnoresStaleLinkEvents() {
	// GOAL: Verify an aborted connect leaves the client retryable and its late link events cannot touch the next attempt
	//
	// TEST SCENARIO: connect times out → reconnect starts → stale LinkFailed/LinkDown of the first attempt arrive → LinkUp of the second attempt → second connect succeeds

	s.client.opts.ConnectTimeout = 30 * time.Millisecond
	err := s.client.Connect(s.ctx, s.peer)
	s.Require().True(errors.Is(err, device.ErrTimeout), "got %v", err)
	s.Require().Equal(Disconnected, s.client.State())
	stale := s.radio.Link()

	s.client.opts.ConnectTimeout = 2 * time.Second
	second := asyncErr(func() error { return s.client.Connect(s.ctx, s.peer) })
	s.Require().Eventually(func() bool { return len(s.radio.Connects()) == 2 && s.client.State() == Connecting }, time.Second, time.Millisecond)
	s.Require().NotEqual(stale, s.radio.Link(), "each attempt MUST get its own link id")

	s.radio.Emit(device.Event{Kind: device.EventLinkFailed, Link: stale, Err: context.Canceled})
	s.radio.Emit(device.Event{Kind: device.EventLinkDown, Link: stale})
	s.radio.LinkUp()

	s.Require().NoError(s.await(second), "reconnect MUST NOT be failed by the aborted attempt")
	s.Equal(Connected, s.client.State())

	s.radio.Emit(device.Event{Kind: device.EventLinkDown, Link: stale})
	s.Never(func() bool { return s.client.State() != Connected }, 50*time.Millisecond, 5*time.Millisecond, "stale link down MUST NOT drop the current link")
}

func (s *ClientTestSuite) TestConnectCancelledByContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := asyncErr(func() error { return s.client.Connect(ctx, s.peer) })
	s.Require().Eventually(func() bool { return s.client.State() == Connecting }, time.Second, time.Millisecond)

	cancel()

	err := s.await(done)
	s.True(errors.Is(err, context.Canceled), "got %v", err)
	s.Equal(Disconnected, s.client.State())
}

func (s *ClientTestSuite) TestConnectRejectedByRadio() {
	s.radio.ConnectErr = errors.New("adapter busy")

	err := s.client.Connect(s.ctx, s.peer)
	s.True(errors.Is(err, device.ErrConnection), "got %v", err)
	s.Equal(Disconnected, s.client.State())
}

func (s *ClientTestSuite) TestDisconnectWhenNotConnected() {
	err := s.client.Disconnect(s.ctx)
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)
}

func (s *ClientTestSuite) TestDisconnectWhileDisconnectingFailsInProgress() {
	s.connect()

	done := asyncErr(func() error { return s.client.Disconnect(s.ctx) })
	s.Require().Eventually(func() bool { return s.client.State() == Disconnecting }, time.Second, time.Millisecond)

	err := s.client.Disconnect(s.ctx)
	s.True(errors.Is(err, device.ErrOperationInProgress), "got %v", err)

	err = s.client.Connect(s.ctx, s.peer)
	s.True(errors.Is(err, device.ErrOperationInProgress), "got %v", err)

	s.radio.LinkDown(nil)
	s.NoError(s.await(done))
}

func (s *ClientTestSuite) TestDisconnectTimeoutForcesDisconnected() {
	s.connect()
	s.client.opts.DisconnectTimeout = 30 * time.Millisecond

	err := s.client.Disconnect(s.ctx)
	s.True(errors.Is(err, device.ErrTimeout), "got %v", err)
	s.Equal(Disconnected, s.client.State())
}

func (s *ClientTestSuite) TestRemoteDisconnectTransitionsSilently() {
	var mu sync.Mutex
	var transitions [][2]State
	s.client.OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, [2]State{from, to})
	})

	s.connect()
	s.discover()

	s.radio.LinkDown(errors.New("remote user terminated"))
	s.Require().Eventually(func() bool { return s.client.State() == Disconnected }, time.Second, time.Millisecond)
	s.Nil(s.client.Services())

	mu.Lock()
	defer mu.Unlock()
	s.Equal([][2]State{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connected, Disconnected},
	}, transitions)
}

func (s *ClientTestSuite) TestDisconnectDuringReadFailsNotConnected() {
	// GOAL: Verify a pending read never hangs across a disconnect
	//
	// TEST SCENARIO: read pending → disconnect requested → read resolves NotConnected → disconnect completes

	s.connect()
	s.discover()

	read := async(func() ([]byte, error) { return s.client.ReadCharacteristic(s.ctx, s1, c1) })
	req := s.nextRequest()

	s.disconnect()

	res := <-read
	s.True(errors.Is(res.err, device.ErrNotConnected), "got %v", res.err)

	s.radio.Complete(req, []byte{0x01})
	s.Equal(Disconnected, s.client.State())
}

func (s *ClientTestSuite) TestRemoteLinkLossFailsPendingRead() {
	s.connect()
	s.discover()

	read := async(func() ([]byte, error) { return s.client.ReadCharacteristic(s.ctx, s1, c1) })
	s.nextRequest()

	s.radio.LinkDown(errors.New("supervision timeout"))

	res := <-read
	s.True(errors.Is(res.err, device.ErrNotConnected), "got %v", res.err)
	s.Equal(Disconnected, s.client.State())
}

func (s *ClientTestSuite) TestMissingServiceDoesNotBlockQueue() {
	// GOAL: Verify resolution failures are reported without occupying the queue
	//
	// TEST SCENARIO: read unknown service → ServiceNotFound, nothing sent → next read proceeds normally

	s.connect()
	s.discover()

	_, err := s.client.ReadCharacteristic(s.ctx, device.MustParseUUID("1800"), c1)
	s.True(errors.Is(err, device.ErrServiceNotFound), "got %v", err)
	s.Zero(s.radio.PendingRequests(), "unresolvable request MUST NOT reach the radio")

	read := async(func() ([]byte, error) { return s.client.ReadCharacteristic(s.ctx, s1, c1) })
	req := s.nextRequest()
	s.radio.Complete(req, []byte{0x07})
	res := <-read
	s.Require().NoError(res.err)
	s.Equal([]byte{0x07}, res.value)
}

func (s *ClientTestSuite) TestResolutionErrors() {
	s.connect()

	_, err := s.client.ReadCharacteristic(s.ctx, s1, c1)
	s.True(errors.Is(err, device.ErrServiceNotFound), "before discovery every lookup MUST miss, got %v", err)

	s.discover()

	other := device.MustParseUUID("2a19")
	_, err = s.client.ReadCharacteristic(s.ctx, s1, other)
	s.True(errors.Is(err, device.ErrCharacteristicNotFound), "got %v", err)

	err = s.client.WriteCharacteristic(s.ctx, s1, other, []byte{1})
	s.True(errors.Is(err, device.ErrCharacteristicNotFound), "got %v", err)

	_, err = s.client.ReadDescriptor(s.ctx, s1, c1, other)
	s.True(errors.Is(err, device.ErrDescriptorNotFound), "got %v", err)

	err = s.client.WriteDescriptor(s.ctx, s1, c1, other, []byte{1})
	s.True(errors.Is(err, device.ErrDescriptorNotFound), "got %v", err)

	err = s.client.SetNotify(s.ctx, s1, other, true, func([]byte) {})
	s.True(errors.Is(err, device.ErrCharacteristicNotFound), "got %v", err)
}

func (s *ClientTestSuite) TestDescriptorReadWrite() {
	s.connect()
	s.discover()

	write := asyncErr(func() error { return s.client.WriteDescriptor(s.ctx, s1, c1, d1, []byte{0x01, 0x00}) })
	req := s.nextRequest()
	s.Equal(device.OpWriteDescriptor, req.Op)
	s.Equal(d1, req.Descriptor)
	s.Equal([]byte{0x01, 0x00}, req.Value)
	s.radio.Complete(req, nil)
	s.NoError(s.await(write))

	read := async(func() ([]byte, error) { return s.client.ReadDescriptor(s.ctx, s1, c1, d1) })
	req = s.nextRequest()
	s.radio.Complete(req, []byte{0x01, 0x00})
	res := <-read
	s.Require().NoError(res.err)
	s.Equal([]byte{0x01, 0x00}, res.value)
}

func (s *ClientTestSuite) TestRadioFailureKinds() {
	s.connect()
	s.discover()

	read := async(func() ([]byte, error) { return s.client.ReadCharacteristic(s.ctx, s1, c1) })
	s.radio.Fail(s.nextRequest(), errors.New("insufficient authentication"))
	s.True(errors.Is((<-read).err, device.ErrReadFailed))

	write := asyncErr(func() error { return s.client.WriteCharacteristic(s.ctx, s1, c1, []byte{1}) })
	s.radio.Fail(s.nextRequest(), errors.New("write not permitted"))
	s.True(errors.Is(s.await(write), device.ErrWriteFailed))

	disc := async(func() ([]device.ServiceDef, error) { return s.client.DiscoverServices(s.ctx) })
	s.radio.Fail(s.nextRequest(), errors.New("discovery aborted"))
	s.True(errors.Is((<-disc).err, device.ErrDiscoveryFailed))

	s.Equal(sampleLayout(), s.client.Services(), "failed discovery MUST keep the previous tree")
}

func (s *ClientTestSuite) TestNotifyLifecycle() {
	// GOAL: Verify notification registration, delivery and removal
	//
	// TEST SCENARIO: enable → [0xFF] delivered exactly once → disable → further value invokes nothing

	s.connect()
	s.discover()

	var mu sync.Mutex
	var got [][]byte
	cb := func(v []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
	}
	received := func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		return append([][]byte(nil), got...)
	}

	enable := asyncErr(func() error { return s.client.SetNotify(s.ctx, s1, c1, true, cb) })
	req := s.nextRequest()
	s.Equal(device.OpSetNotify, req.Op)
	s.True(req.Enable)
	s.radio.Complete(req, nil)
	s.Require().NoError(s.await(enable))

	s.radio.Notify(c1.String(), []byte{0xFF})
	s.Require().Eventually(func() bool { return len(received()) == 1 }, time.Second, 5*time.Millisecond)
	s.Never(func() bool { return len(received()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	s.Equal([][]byte{{0xFF}}, received())

	disable := asyncErr(func() error { return s.client.SetNotify(s.ctx, s1, c1, false, nil) })
	req = s.nextRequest()
	s.False(req.Enable)
	s.radio.Complete(req, nil)
	s.Require().NoError(s.await(disable))

	s.radio.Notify(c1.String(), []byte{0xAA})
	s.Never(func() bool { return len(received()) > 1 }, 100*time.Millisecond, 5*time.Millisecond)
}

func (s *ClientTestSuite) TestNotifyEnableFailureRollsBack() {
	s.connect()
	s.discover()

	enable := asyncErr(func() error { return s.client.SetNotify(s.ctx, s1, c1, true, func([]byte) {}) })
	s.radio.Fail(s.nextRequest(), errors.New("cccd write failed"))

	err := s.await(enable)
	s.True(errors.Is(err, device.ErrWriteFailed), "got %v", err)
	s.False(s.client.registry.Has(c1), "failed enable MUST NOT leave a registration")
}

func (s *ClientTestSuite) TestDisableWithoutRegistrationSucceeds() {
	s.connect()
	s.discover()

	disable := asyncErr(func() error { return s.client.SetNotify(s.ctx, s1, c1, false, nil) })
	s.radio.Complete(s.nextRequest(), nil)
	s.NoError(s.await(disable))
}

func (s *ClientTestSuite) TestDisconnectClearsRegistrations() {
	s.connect()
	s.discover()

	enable := asyncErr(func() error { return s.client.SetNotify(s.ctx, s1, c1, true, func([]byte) {}) })
	s.radio.Complete(s.nextRequest(), nil)
	s.Require().NoError(s.await(enable))
	s.True(s.client.registry.Has(c1))

	s.radio.LinkDown(errors.New("remote user terminated"))
	s.Eventually(func() bool { return s.client.State() == Disconnected }, time.Second, time.Millisecond)
	s.Equal(0, s.client.registry.Len(), "every disconnect MUST clear registrations")
}

func (s *ClientTestSuite) TestOperationsRequireConnection() {
	_, err := s.client.DiscoverServices(s.ctx)
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)

	_, err = s.client.ReadCharacteristic(s.ctx, s1, c1)
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)

	err = s.client.WriteCharacteristic(s.ctx, s1, c1, []byte{1})
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)

	_, err = s.client.ReadDescriptor(s.ctx, s1, c1, d1)
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)

	err = s.client.WriteDescriptor(s.ctx, s1, c1, d1, []byte{1})
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)

	err = s.client.SetNotify(s.ctx, s1, c1, true, func([]byte) {})
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)
}

func (s *ClientTestSuite) TestPermissionGatesEveryOperation() {
	s.platform.Revoke(scanPermission)
	defer s.platform.Grant(scanPermission)

	checks := map[string]error{
		"start scan": s.client.StartScan(nil, nil),
		"stop scan":  s.client.StopScan(),
		"connect":    s.client.Connect(s.ctx, s.peer),
		"disconnect": s.client.Disconnect(s.ctx),
		"write":      s.client.WriteCharacteristic(s.ctx, s1, c1, nil),
		"notify":     s.client.SetNotify(s.ctx, s1, c1, true, func([]byte) {}),
	}
	_, checks["discover"] = s.client.DiscoverServices(s.ctx)
	_, checks["read"] = s.client.ReadCharacteristic(s.ctx, s1, c1)

	for name, err := range checks {
		s.True(errors.Is(err, device.ErrPermissionDenied), "%s MUST fail with PermissionDenied, got %v", name, err)
	}
	s.Empty(s.radio.Connects())
}

func (s *ClientTestSuite) TestScanFacade() {
	s.Require().NoError(s.client.StartScan(nil, nil))
	s.True(s.client.IsScanning())

	s.radio.Sight(device.Sighting{Address: radiotest.Address("AA:00:00:00:00:01"), Name: "Thermo", RSSI: -50})

	var d device.Discovery
	select {
	case d = <-s.client.Discoveries():
	case <-time.After(time.Second):
		s.FailNow("no discovery")
	}

	p, ok := s.client.Lookup(d.Identifier)
	s.Require().True(ok)
	s.Len(s.client.Devices(), 1)

	done := asyncErr(func() error { return s.client.ConnectID(s.ctx, d.Identifier) })
	s.Require().Eventually(func() bool { return len(s.radio.Connects()) == 1 }, time.Second, time.Millisecond)
	s.Equal(p.Address(), s.radio.Connects()[0])
	s.radio.LinkUp()
	s.NoError(s.await(done))

	s.Require().NoError(s.client.StopScan())
	s.False(s.client.IsScanning())

	err := s.client.ConnectID(s.ctx, "no-such-device")
	s.True(errors.Is(err, device.ErrConnection), "got %v", err)
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
