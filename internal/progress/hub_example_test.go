package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Report demonstrates reporting an event and flushing via Close.
func ExampleHub_Report() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Report("owner-1", Event{
		JobID: "job-1",
		TS:    time.Unix(0, 0),
		Kind:  KindJobStarted,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleDescribe shows the status lines rendered for a chat front end.
func ExampleDescribe() {
	fmt.Println(Describe(Event{Kind: KindChapterStarted, ChapterNumber: 10.5, ChapterIndex: 2, TotalChapters: 3}))
	fmt.Println(Describe(Event{Kind: KindCompleted}))
	// Output:
	// 📦 Processando Cap 10.5 (2/3)
	// ✅ Enviado com sucesso!
}
