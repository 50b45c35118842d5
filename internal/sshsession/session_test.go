package sshsession

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"

	"golang.org/x/crypto/ssh"
)

// execMsg and exitStatusMsg mirror the wire payloads the SSH protocol uses
// for "exec" channel requests, per RFC 4254 §6.5 and §6.10.
type execMsg struct {
	Command string
}

type exitStatusMsg struct {
	Status uint32
}

// startFakeServer spins up a real, localhost-only SSH server that answers
// every "exec" request with the command-keyed behavior from handler, so
// Session.Run can be exercised without a real destination.
func startFakeServer(t *testing.T, handler func(cmd string) (exitCode int, stdout, stderr []byte)) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeConn(conn, config, handler)
		}
	}()

	return ln.Addr().String()
}

func serveFakeConn(conn net.Conn, config *ssh.ServerConfig, handler func(cmd string) (int, []byte, []byte)) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer channel.Close()
			for req := range requests {
				if req.Type != "exec" {
					if req.WantReply {
						req.Reply(false, nil)
					}
					continue
				}
				var msg execMsg
				ssh.Unmarshal(req.Payload, &msg)
				req.Reply(true, nil)

				exitCode, stdout, stderr := handler(msg.Command)
				channel.Write(stdout)
				channel.Stderr().Write(stderr)
				channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatusMsg{Status: uint32(exitCode)}))
				return
			}
		}()
	}
}

// dialFakeSession connects to addr and wraps the resulting *ssh.Client in a
// Session, bypassing Dial's host-key verification against the real
// ~/.ssh/known_hosts (the fake server's key was never added there).
func dialFakeSession(t *testing.T, addr string) *Session {
	t.Helper()
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "tej-test",
		Auth:            []ssh.AuthMethod{ssh.Password("unused")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		t.Fatalf("dial fake server: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return &Session{client: client}
}

func TestRun_CapturesStdoutAndExitCode(t *testing.T) {
	addr := startFakeServer(t, func(cmd string) (int, []byte, []byte) {
		return 0, []byte("hello\r\n"), nil
	})
	s := dialFakeSession(t, addr)

	res, err := s.Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
	if string(res.Stdout) != "hello" {
		t.Fatalf("expected trailing CRLF trimmed, got %q", res.Stdout)
	}
}

func TestRun_NonZeroExitCode(t *testing.T) {
	addr := startFakeServer(t, func(cmd string) (int, []byte, []byte) {
		return 3, nil, []byte("not found\n")
	})
	s := dialFakeSession(t, addr)

	res, err := s.Run(context.Background(), "commands/status does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestRun_WrapsCommandInShEscaped(t *testing.T) {
	var gotCmd string
	addr := startFakeServer(t, func(cmd string) (int, []byte, []byte) {
		gotCmd = cmd
		return 0, nil, nil
	})
	s := dialFakeSession(t, addr)

	if _, err := s.Run(context.Background(), "echo $(whoami)"); err != nil {
		t.Fatal(err)
	}
	const want = `/bin/sh -c "echo \$(whoami)"`
	if gotCmd != want {
		t.Fatalf("expected command wrapped and escaped as %q, got %q", want, gotCmd)
	}
}
