// Package hivemq starts disposable HiveMQ brokers in Docker for integration tests.
//
// A [Container] is configured with functional options and started with [Container.Start], which
// returns once the broker accepts MQTT connections:
//
//	c, err := hivemq.New(
//		hivemq.WithImage("hivemq/hivemq4", "latest"),
//		hivemq.WithExtensionDir("testdata/my-extension"),
//		hivemq.WithStartupTimeout(2*time.Minute),
//	)
//	if err != nil {
//		return err
//	}
//	if err := c.Start(ctx); err != nil {
//		return err
//	}
//	defer c.Stop(context.WithoutCancel(ctx))
//
//	port, err := c.MQTTPort()
//
// The broker's output is fanned out to any number of subscribers (see [Container.Subscribe]) and
// can be matched against regular expressions through [Container.Expectations]. Extensions of an
// enterprise image can be disabled and enabled at runtime with [Container.DisableExtension] and
// [Container.EnableExtension].
package hivemq
