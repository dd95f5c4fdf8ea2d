package mdarunner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"
)

type acquisitionBDDContext struct {
	runner    *Runner
	engine    *fakeEngine
	events    []Event
	consumers map[string]*fakeConsumer
	specs     []ConsumerSpec
	policy    RunPolicy

	report RunReport
	runErr error
}

func (c *acquisitionBDDContext) reset() {
	c.runner = NewRunner("bdd", nil)
	c.engine = nil
	c.events = nil
	c.consumers = make(map[string]*fakeConsumer)
	c.specs = nil
	c.policy = DefaultRunPolicy()
	c.report = RunReport{}
	c.runErr = nil
}

func (c *acquisitionBDDContext) aRunnerWithTheDefaultPolicy() error {
	c.reset()
	return nil
}

func (c *acquisitionBDDContext) theNonCriticalErrorPolicyIs(value string) error {
	c.policy.NonCriticalError = NonCriticalErrorPolicy(value)
	return nil
}

func (c *acquisitionBDDContext) anEngineThatProducesNFramesForEachOfMEvents(frames, count int) error {
	c.engine = &fakeEngine{framesPerEvent: frames}
	c.events = make([]Event, count)
	for i := range c.events {
		c.events[i] = fakeEvent{meta: map[string]any{"index": i}}
	}
	return nil
}

func (c *acquisitionBDDContext) aConsumerNamed(name string) error {
	consumer := newFakeConsumer()
	c.consumers[name] = consumer
	c.specs = append(c.specs, ConsumerSpec{Name: name, Consumer: consumer, Critical: false})
	return nil
}

func (c *acquisitionBDDContext) aConsumerNamedThatFailsOnItsFirstFrame(name string) error {
	consumer := newFakeConsumer()
	consumer.failFrame = 0
	c.consumers[name] = consumer
	c.specs = append(c.specs, ConsumerSpec{Name: name, Consumer: consumer, Critical: false})
	return nil
}

func (c *acquisitionBDDContext) isRegisteredAsCritical(name string) error {
	for i, spec := range c.specs {
		if spec.Name == name {
			c.specs[i].Critical = true
			return nil
		}
	}
	return fmt.Errorf("no consumer named %q registered", name)
}

func (c *acquisitionBDDContext) iRunTheSequenceToCompletion() error {
	events := NewSliceEventSource(c.events)
	c.report, c.runErr = c.runner.Run(context.Background(), nil, events, c.engine, c.specs, c.policy)
	return nil
}

func (c *acquisitionBDDContext) theRunStatusShouldBe(status string) error {
	if string(c.report.Status) != status {
		return fmt.Errorf("expected status %q, got %q (err=%v)", status, c.report.Status, c.runErr)
	}
	return nil
}

func (c *acquisitionBDDContext) theRunShouldFailWithACriticalConsumerError() error {
	if !errors.Is(c.runErr, ErrCriticalConsumerFailed) {
		return fmt.Errorf("expected a critical consumer error, got %v", c.runErr)
	}
	return nil
}

func (c *acquisitionBDDContext) theRunErrorShouldNameConsumer(name string) error {
	if c.runErr == nil || !strings.Contains(c.runErr.Error(), name) {
		return fmt.Errorf("expected the run error to name consumer %q, got %v", name, c.runErr)
	}
	return nil
}

func (c *acquisitionBDDContext) consumerShouldHaveProcessedNFrames(name string, n int) error {
	consumer, ok := c.consumers[name]
	if !ok {
		return fmt.Errorf("no consumer named %q", name)
	}
	if consumer.frameCount() != n {
		return fmt.Errorf("expected %d frames delivered to %q, got %d", n, name, consumer.frameCount())
	}
	return nil
}

func (c *acquisitionBDDContext) consumerShouldHaveRecordedAnError(name string) error {
	for _, cr := range c.report.ConsumerReports {
		if cr.Name == name && len(cr.Errors) > 0 {
			return nil
		}
	}
	return fmt.Errorf("consumer %q has no recorded errors in the report", name)
}

func (c *acquisitionBDDContext) consumerShouldHaveDroppedAtLeastNFrames(name string, n int) error {
	for _, cr := range c.report.ConsumerReports {
		if cr.Name == name {
			if cr.Dropped >= int64(n) {
				return nil
			}
			return fmt.Errorf("expected %q to have dropped at least %d frames, got %d", name, n, cr.Dropped)
		}
	}
	return fmt.Errorf("no consumer report for %q", name)
}

func initializeAcquisitionScenario(sc *godog.ScenarioContext) {
	c := &acquisitionBDDContext{}

	sc.Step(`^a runner with the default policy$`, c.aRunnerWithTheDefaultPolicy)
	sc.Step(`^the non-critical error policy is "([^"]*)"$`, c.theNonCriticalErrorPolicyIs)
	sc.Step(`^an engine that produces (\d+) frames? for each of (\d+) events?$`, c.anEngineThatProducesNFramesForEachOfMEvents)
	sc.Step(`^a consumer named "([^"]*)"$`, c.aConsumerNamed)
	sc.Step(`^a consumer named "([^"]*)" that fails on its first frame$`, c.aConsumerNamedThatFailsOnItsFirstFrame)
	sc.Step(`^"([^"]*)" is registered as critical$`, c.isRegisteredAsCritical)
	sc.Step(`^I run the sequence to completion$`, c.iRunTheSequenceToCompletion)
	sc.Step(`^the run status should be "([^"]*)"$`, c.theRunStatusShouldBe)
	sc.Step(`^the run should fail with a critical consumer error$`, c.theRunShouldFailWithACriticalConsumerError)
	sc.Step(`^the run error should name consumer "([^"]*)"$`, c.theRunErrorShouldNameConsumer)
	sc.Step(`^consumer "([^"]*)" should have processed (\d+) frames$`, c.consumerShouldHaveProcessedNFrames)
	sc.Step(`^consumer "([^"]*)" should have recorded an error$`, c.consumerShouldHaveRecordedAnError)
	sc.Step(`^consumer "([^"]*)" should have dropped at least (\d+) frame$`, c.consumerShouldHaveDroppedAtLeastNFrames)
}

func TestAcquisitionRunFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeAcquisitionScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/acquisition_run.feature"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
