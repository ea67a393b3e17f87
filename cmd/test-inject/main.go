// Command test-inject is a manual test for IRK output.
// It waits 3 seconds, then types or pastes a sample IRK.
// Focus a text editor before the countdown finishes.
//
// Usage:
//
//	go run ./cmd/test-inject [--method type|paste]
package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/chaz8081/irk-enroll/internal/inject"
	"github.com/chaz8081/irk-enroll/internal/publish"
)

func main() {
	method := pflag.String("method", "type", "inject method: type or paste")
	pflag.Parse()

	const sample = "ec0234a357c8ad05341010a60a397d9b"

	fmt.Printf("Will publish %s using %q method in 3 seconds...\n", sample, *method)
	fmt.Println("Focus a text editor now!")

	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	// Same path as irk-enroll: sensor callback -> injector
	sensor := publish.NewTextSensor("Latest IRK")
	obs := inject.NewObserver(inject.NewInjector(*method))
	sensor.OnValue(obs.PublishState)
	sensor.PublishState(sample)
	obs.Close()

	fmt.Println("\nDone!")
}
