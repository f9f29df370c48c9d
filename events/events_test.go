package events

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

var testTime = time.Unix(1_700_000_000, 0).UTC()

func TestJournal_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournal(&buf)

	created := New(KindAuctionCreated, 7, testTime)
	created.Actor = "0x00000000000000000000000000000000000000c1"
	created.Terms = &Terms{
		DurationSeconds:   86400,
		ReservePrice:      "1000000000000000000",
		Creator:           created.Actor,
		FundsRecipient:    created.Actor,
		CuratorFeePercent: 5,
	}

	ended := New(KindAuctionEnded, 7, testTime.Add(25*time.Hour))
	ended.Winner = "0x00000000000000000000000000000000000000b1"
	ended.Amount = "2000000000000000000"
	ended.Payouts = []Payout{
		{Recipient: created.Actor, Amount: "2000000000000000000", Role: "creator"},
	}

	j.Emit(created)
	j.Emit(ended)
	check.Equal(t, 2, j.Len())

	got, err := ReadJournal(&buf)
	check.Nil(t, err)
	check.Equal(t, 2, len(got))

	check.Equal(t, created.ID, got[0].ID)
	check.Equal(t, KindAuctionCreated, got[0].Kind)
	check.Equal(t, uint64(7), got[0].TokenID)
	check.Equal(t, testTime.Unix(), got[0].Time.Unix())
	check.NotNil(t, got[0].Terms)
	check.Equal(t, uint8(5), got[0].Terms.CuratorFeePercent)

	check.Equal(t, KindAuctionEnded, got[1].Kind)
	check.Equal(t, ended.Winner, got[1].Winner)
	check.Equal(t, 1, len(got[1].Payouts))
	check.Equal(t, "creator", got[1].Payouts[0].Role)
}

func TestReadJournal_Empty(t *testing.T) {
	got, err := ReadJournal(&bytes.Buffer{})
	check.Nil(t, err)
	check.Equal(t, 0, len(got))
}

func TestReadJournal_TornTail(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournal(&buf)
	j.Emit(New(KindAuctionCreated, 1, testTime))
	j.Emit(New(KindAuctionBid, 1, testTime))

	torn := buf.Bytes()[:buf.Len()-3]
	got, err := ReadJournal(bytes.NewReader(torn))
	check.Nil(t, err)
	check.Equal(t, 1, len(got))
	check.Equal(t, KindAuctionCreated, got[0].Kind)
}

func TestJournalFile_ListByToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	store := JournalFile{Path: path}

	got, err := store.ListByToken(context.Background(), 1)
	check.Nil(t, err)
	check.Equal(t, 0, len(got))

	f, err := os.Create(path)
	check.Nil(t, err)
	j := NewJournal(f)
	first := New(KindAuctionCreated, 1, testTime)
	j.Emit(first)
	j.Emit(New(KindAuctionCreated, 2, testTime))
	last := New(KindAuctionBid, 1, testTime)
	j.Emit(last)
	check.Nil(t, f.Close())

	got, err = store.ListByToken(context.Background(), 1)
	check.Nil(t, err)
	check.Equal(t, 2, len(got))
	check.Equal(t, first.ID, got[0].ID)
	check.Equal(t, last.ID, got[1].ID)
}

func TestNew_IDsAreOrdered(t *testing.T) {
	a := New(KindAuctionBid, 1, testTime)
	b := New(KindAuctionBid, 1, testTime)
	check.True(t, a.ID < b.ID)
	check.Equal(t, 26, len(a.ID))
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(1)
	ch, cancel := b.Subscribe()
	check.Equal(t, 1, b.Subscribers())

	first := New(KindAuctionBid, 1, testTime)
	b.Emit(first)
	// Buffer is full; this one is dropped for the slow subscriber.
	b.Emit(New(KindAuctionBid, 1, testTime))

	got := <-ch
	check.Equal(t, first.ID, got.ID)

	cancel()
	cancel()
	check.Equal(t, 0, b.Subscribers())
	_, open := <-ch
	check.True(t, !open)
}

func TestMulti(t *testing.T) {
	var seen []Kind
	sink := Multi{
		SinkFunc(func(ev Event) { seen = append(seen, ev.Kind) }),
		Discard,
		SinkFunc(func(ev Event) { seen = append(seen, ev.Kind) }),
	}
	sink.Emit(New(KindRecoveryDisabled, 0, testTime))
	check.Equal(t, []Kind{KindRecoveryDisabled, KindRecoveryDisabled}, seen)
}

func TestSQLSink_InsertQuery(t *testing.T) {
	pg := &SQLSink{driver: DriverPostgres}
	check.Equal(t,
		`INSERT INTO auction_events (id, kind, token_id, occurred_at, payload) VALUES ($1, $2, $3, $4, $5)`,
		pg.insertQuery())

	my := &SQLSink{driver: DriverMySQL}
	check.Equal(t,
		`INSERT INTO auction_events (id, kind, token_id, occurred_at, payload) VALUES (?, ?, ?, ?, ?)`,
		my.insertQuery())
}

func TestOpenSQLSink_RejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQLSink(SQLConfig{Driver: "sqlite", DSN: "file::memory:"})
	check.NotNil(t, err)
}
