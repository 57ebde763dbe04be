package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/nerrad567/purelink-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

const (
	testSerial   = "NN2-EU-SIM00001"
	testPassword = "sticker-password"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func startDevice(t *testing.T, opts Options) (*Device, int) {
	t.Helper()
	port := freePort(t)
	opts.Address = fmt.Sprintf("127.0.0.1:%d", port)
	if opts.DeviceType == "" {
		opts.DeviceType = purelink.DeviceType475
	}
	if opts.Serial == "" {
		opts.Serial = testSerial
	}
	if opts.Password == "" {
		opts.Password = testPassword
	}

	d, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, port
}

// connectClient logs in the way the bridge does and collects status messages.
func connectClient(t *testing.T, d *Device, port int) (*mqtt.Client, <-chan map[string]any) {
	t.Helper()
	client, err := mqtt.Connect(context.Background(), mqtt.Options{
		Host:           "127.0.0.1",
		Port:           port,
		ClientID:       fmt.Sprintf("sim-test-%d", time.Now().UnixNano()),
		Username:       testSerial,
		Password:       string(purelink.DeriveCredential(testPassword)),
		ConnectTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("mqtt.Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	msgs := make(chan map[string]any, 16)
	err = client.Subscribe(d.Topics().Status(), 0, func(_ string, payload []byte) error {
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err != nil {
			return err
		}
		msgs <- m
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return client, msgs
}

func receive(t *testing.T, msgs <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no status message within 2s")
		return nil
	}
}

func expectSilence(t *testing.T, msgs <-chan map[string]any, d time.Duration) {
	t.Helper()
	select {
	case m := <-msgs:
		t.Fatalf("unexpected status message %v", m)
	case <-time.After(d):
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{Address: "127.0.0.1:0", DeviceType: "999", Serial: "x", Password: "y"}); !errors.Is(err, purelink.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(Options{DeviceType: purelink.DeviceType455, Serial: "x", Password: "y"}); err == nil {
		t.Error("New() without an address should fail")
	}
}

func TestDeviceRejectsRawPassword(t *testing.T) {
	_, port := startDevice(t, Options{})

	_, err := mqtt.Connect(context.Background(), mqtt.Options{
		Host:           "127.0.0.1",
		Port:           port,
		ClientID:       "raw-password",
		Username:       testSerial,
		Password:       testPassword,
		ConnectTimeout: 3 * time.Second,
	})
	if !errors.Is(err, mqtt.ErrConnectionRefused) {
		t.Fatalf("Connect() error = %v, want refused", err)
	}
}

func TestDeviceAnswersStateRequest(t *testing.T) {
	d, port := startDevice(t, Options{})
	client, msgs := connectClient(t, d, port)

	payload, _ := purelink.EncodeStateRequest()
	if err := client.Publish(d.Topics().Command(), payload, 0, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	state := receive(t, msgs)
	if state["msg"] != purelink.MsgCurrentState {
		t.Fatalf("first reply = %v, want CURRENT-STATE", state["msg"])
	}
	ps, ok := state["product-state"].(map[string]any)
	if !ok || ps["fmod"] != "AUTO" || ps["filf"] != "2159" {
		t.Errorf("product-state = %v", state["product-state"])
	}

	sensor := receive(t, msgs)
	if sensor["msg"] != purelink.MsgSensorData {
		t.Fatalf("second reply = %v, want sensor data", sensor["msg"])
	}
	if d.Requests() != 1 {
		t.Errorf("Requests() = %d, want 1", d.Requests())
	}
}

func TestDeviceAppliesStateSet(t *testing.T) {
	d, port := startDevice(t, Options{})
	client, msgs := connectClient(t, d, port)

	cmd, _ := purelink.MapFanSpeed(70)
	payload, err := purelink.EncodeStateChange(cmd)
	if err != nil {
		t.Fatalf("EncodeStateChange() error = %v", err)
	}
	if err := client.Publish(d.Topics().Command(), payload, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	reply := receive(t, msgs)
	if reply["msg"] != purelink.MsgStateChange {
		t.Fatalf("reply = %v, want STATE-CHANGE", reply["msg"])
	}
	ps := reply["product-state"].(map[string]any)
	pair, ok := ps["fnsp"].([]any)
	if !ok || len(pair) != 2 || pair[0] != "AUTO" || pair[1] != "0007" {
		t.Errorf("fnsp = %v, want [AUTO 0007]", ps["fnsp"])
	}

	state := d.State()
	if state[purelink.FieldFanMode] != "FAN" || state[purelink.FieldFanSpeed] != "0007" {
		t.Errorf("State() = %v", state)
	}
	if d.Commands() != 1 {
		t.Errorf("Commands() = %d, want 1", d.Commands())
	}
}

func TestDeviceFanStateFollowsMode(t *testing.T) {
	d, _ := startDevice(t, Options{})

	before, after := d.apply(map[string]string{purelink.FieldFanMode: "OFF", purelink.FieldFilterLife: "0001"})
	if before[purelink.FieldFanState] != "FAN" || after[purelink.FieldFanState] != "OFF" {
		t.Errorf("fnst %s -> %s, want FAN -> OFF", before[purelink.FieldFanState], after[purelink.FieldFanState])
	}
	if after[purelink.FieldFilterLife] != "2159" {
		t.Error("filter life must not be writable")
	}
}

func TestDeviceMuted(t *testing.T) {
	d, port := startDevice(t, Options{})
	client, msgs := connectClient(t, d, port)
	d.SetMuted(true)

	payload, _ := purelink.EncodeStateRequest()
	if err := client.Publish(d.Topics().Command(), payload, 0, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	expectSilence(t, msgs, 200*time.Millisecond)
}

func TestDeviceSensorMuted(t *testing.T) {
	d, port := startDevice(t, Options{})
	client, msgs := connectClient(t, d, port)
	d.SetSensorMuted(true)

	payload, _ := purelink.EncodeStateRequest()
	if err := client.Publish(d.Topics().Command(), payload, 0, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if m := receive(t, msgs); m["msg"] != purelink.MsgCurrentState {
		t.Fatalf("reply = %v", m["msg"])
	}
	expectSilence(t, msgs, 200*time.Millisecond)
}

func TestDevicePress(t *testing.T) {
	d, port := startDevice(t, Options{})
	_, msgs := connectClient(t, d, port)

	if err := d.Press(purelink.FieldNightMode, "ON"); err != nil {
		t.Fatalf("Press() error = %v", err)
	}
	m := receive(t, msgs)
	ps := m["product-state"].(map[string]any)
	if len(ps) != 1 {
		t.Errorf("unsolicited change carries %d fields, want 1: %v", len(ps), ps)
	}

	// Pressing the same value again is not a change.
	if err := d.Press(purelink.FieldNightMode, "ON"); err != nil {
		t.Fatalf("Press() error = %v", err)
	}
	expectSilence(t, msgs, 200*time.Millisecond)

	d.Close()
	if err := d.Press(purelink.FieldNightMode, "OFF"); !errors.Is(err, ErrClosed) {
		t.Errorf("Press() after Close error = %v, want ErrClosed", err)
	}
}
