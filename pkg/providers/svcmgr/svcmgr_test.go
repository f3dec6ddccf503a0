package svcmgr

import (
	"context"
	"reflect"
	"testing"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/system/systemtest"
)

func TestNames(t *testing.T) {
	want := []string{"Systemd", "Debian", "Launchctl", "Homebrew", "Redhat"}
	if got := Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestSystemd(t *testing.T) {
	ctx := context.Background()
	env := systemtest.New("linux").
		SetOutput("systemctl is-active --quiet nginx", "", 0).
		SetOutput("systemctl is-enabled --quiet nginx", "", 1).
		SetOutput("systemctl enable nginx", "", 0).
		SetOutput("systemctl reload nginx", "", 0)

	p := Systemd{}
	if ok, err := p.Running(ctx, env, "nginx"); err != nil || !ok {
		t.Errorf("Running() = %v, %v", ok, err)
	}
	if ok, err := p.Enabled(ctx, env, "nginx"); err != nil || ok {
		t.Errorf("Enabled() = %v, %v", ok, err)
	}
	if err := p.Enable(ctx, env, "nginx"); err != nil {
		t.Errorf("Enable() error = %v", err)
	}

	s, err := p.Action(ctx, env, "nginx", "reload")
	if err != nil {
		t.Fatalf("Action() error = %v", err)
	}
	if st, err := s.Wait(ctx); err != nil || !st.Success {
		t.Errorf("reload status = %+v, %v", st, err)
	}
}

func TestEnableFailureIsExecutionError(t *testing.T) {
	// Unscripted commands exit 127.
	env := systemtest.New("linux")

	err := Systemd{}.Disable(context.Background(), env, "nginx")
	if !errdefs.IsExecution(err) {
		t.Errorf("expected execution error, got %v", err)
	}
}

func TestDebianEnabled(t *testing.T) {
	ctx := context.Background()
	find := "find /etc/rc2.d /etc/rc3.d /etc/rc4.d /etc/rc5.d -name S??ssh"

	enabled := systemtest.New("linux").SetOutput(find, "/etc/rc2.d/S01ssh\n", 0)
	if ok, err := (Debian{}).Enabled(ctx, enabled, "ssh"); err != nil || !ok {
		t.Errorf("Enabled() = %v, %v", ok, err)
	}

	disabled := systemtest.New("linux").SetOutput(find, "", 0)
	if ok, err := (Debian{}).Enabled(ctx, disabled, "ssh"); err != nil || ok {
		t.Errorf("Enabled() = %v, %v", ok, err)
	}
}

func TestLaunchctl(t *testing.T) {
	ctx := context.Background()
	env := systemtest.New("darwin").
		SetOutput("launchctl print system/com.openssh.sshd", "com.openssh.sshd = {\n\tstate = running\n}\n", 0).
		SetOutput("launchctl print-disabled system", "disabled services = {\n\t\"com.openssh.sshd\" => enabled\n\t\"com.apple.ftpd\" => disabled\n}\n", 0).
		SetOutput("launchctl kickstart system/com.openssh.sshd", "", 0)

	p := Launchctl{}
	if ok, err := p.Running(ctx, env, "com.openssh.sshd"); err != nil || !ok {
		t.Errorf("Running() = %v, %v", ok, err)
	}
	if ok, err := p.Enabled(ctx, env, "com.openssh.sshd"); err != nil || !ok {
		t.Errorf("Enabled(sshd) = %v, %v", ok, err)
	}
	if ok, err := p.Enabled(ctx, env, "com.apple.ftpd"); err != nil || ok {
		t.Errorf("Enabled(ftpd) = %v, %v", ok, err)
	}

	s, err := p.Action(ctx, env, "com.openssh.sshd", ActionStart)
	if err != nil {
		t.Fatalf("Action() error = %v", err)
	}
	_, _ = s.Wait(ctx)
	if !env.Called("launchctl kickstart system/com.openssh.sshd") {
		t.Errorf("expected kickstart, calls: %v", env.Calls())
	}
}

func TestHomebrewStatus(t *testing.T) {
	ctx := context.Background()
	list := "Name       Status    User File\npostgresql started   me   ~/Library/LaunchAgents/homebrew.mxcl.postgresql.plist\nredis      none\n"
	env := systemtest.New("darwin").SetOutput("brew services list", list, 0)

	p := Homebrew{}
	if ok, err := p.Running(ctx, env, "postgresql"); err != nil || !ok {
		t.Errorf("Running(postgresql) = %v, %v", ok, err)
	}
	if ok, err := p.Running(ctx, env, "redis"); err != nil || ok {
		t.Errorf("Running(redis) = %v, %v", ok, err)
	}
	if ok, err := p.Enabled(ctx, env, "mysql"); err != nil || ok {
		t.Errorf("Enabled(mysql) = %v, %v", ok, err)
	}
}

func TestRedhat(t *testing.T) {
	ctx := context.Background()
	env := systemtest.New("linux").
		SetOutput("chkconfig httpd", "", 0).
		SetOutput("chkconfig httpd off", "", 0)

	p := Redhat{}
	if ok, err := p.Enabled(ctx, env, "httpd"); err != nil || !ok {
		t.Errorf("Enabled() = %v, %v", ok, err)
	}
	if err := p.Disable(ctx, env, "httpd"); err != nil {
		t.Errorf("Disable() error = %v", err)
	}
}

func TestInvalidNames(t *testing.T) {
	ctx := context.Background()
	env := systemtest.New("linux")
	for _, p := range Providers() {
		if _, err := p.Running(ctx, env, "../etc"); !errdefs.IsConfiguration(err) {
			t.Errorf("%s: expected configuration error for bad name, got %v", p.Name(), err)
		}
		if _, err := p.Action(ctx, env, "nginx", "--now"); !errdefs.IsConfiguration(err) {
			t.Errorf("%s: expected configuration error for bad action, got %v", p.Name(), err)
		}
	}
	if len(env.Calls()) != 0 {
		t.Errorf("no command should run, got %v", env.Calls())
	}
}
