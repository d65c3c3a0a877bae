package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"tally/api/grpcserver"
	"tally/config"
	"tally/domain/ledger"
	"tally/infra/outbox"
	"tally/infra/sequence"
	"tally/infra/wal"
	"tally/jobs/broadcaster"
	"tally/keystore"
	"tally/service"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.Load()

	// ---------------- Keys ----------------

	keys, err := keystore.Load(cfg.PrivateKey)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PrivateKey).Msg("server key load failed")
	}
	// publish the verification key so clients can pick it up
	if err := keys.SavePublic(cfg.PublicKey); err != nil {
		log.Fatal().Err(err).Str("path", cfg.PublicKey).Msg("server public key write failed")
	}

	// ---------------- WAL ----------------

	w, err := wal.Open(cfg.WALPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.WALPath).Msg("wal open failed")
	}
	defer w.Close()

	// ---------------- Outbox ----------------

	var (
		box    *outbox.Outbox
		events = sequence.New(0)
	)
	if len(cfg.KafkaBrokers) > 0 {
		box, err = outbox.Open(cfg.OutboxDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.OutboxDir).Msg("outbox open failed")
		}
		defer box.Close()

		last, err := box.MaxID()
		if err != nil {
			log.Fatal().Err(err).Msg("outbox scan failed")
		}
		events.Reset(last)
	}

	// ---------------- State machine ----------------

	accounts := ledger.New()
	seqs := ledger.NewTracker()
	proc := service.NewProcessor(accounts, seqs, w, box, events, log)

	// ---------------- Replay ----------------

	n, err := service.Replay(w, proc)
	if err != nil {
		log.Fatal().Err(err).Msg("wal replay failed")
	}
	log.Info().Int("records", n).Int("accounts", accounts.Len()).Msg("state recovered")

	// ---------------- Background jobs ----------------

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if box != nil {
		bc, err := broadcaster.New(box, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.BroadcastInterval, log)
		if err != nil {
			log.Fatal().Err(err).Msg("broadcaster init failed")
		}
		defer bc.Close()
		go bc.Run(ctx)
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Listen).Msg("listen failed")
	}

	grpcSrv := grpc.NewServer()
	grpcserver.NewServer(proc, keys.Private, log).Register(grpcSrv)

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	log.Info().Str("addr", cfg.Listen).Msg("ledger serving")
	if err := grpcSrv.Serve(lis); err != nil {
		log.Fatal().Err(err).Msg("grpc server exited")
	}
}
