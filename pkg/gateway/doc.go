// Package gateway emulates LoRa gateways forwarding battery monitor uplinks.
//
// A Simulator produces uplinks for a fleet of devices, several gateways
// hearing each device with different signal strength. A Batcher collects
// uplinks and hands them to a Transport, which delivers them either to the
// HTTP ingest endpoint or to the MQTT broker the server subscribes to.
//
//	sim := gateway.NewSimulator(gateway.SimulatorConfig{Devices: 3, Gateways: 2})
//	b := gateway.NewBatcher(gateway.NewHTTPTransport("http://localhost:8080"), gateway.BatchConfig{}, logger)
//	b.Start(ctx)
//	defer b.Stop()
//	for _, u := range sim.Next(time.Now()) {
//		b.Add(u)
//	}
package gateway
