// Package config loads the softgmu YAML configuration.
//
// A configuration file has one section per concern:
//
//	hfi:
//	  response_timeout: 5ms
//	  poll_interval: 100us
//	  features: [acd]
//	  boot_level: -1
//	  notify_on_stop: true
//	power:
//	  gpu:
//	    - {freq_khz: 0, vote: 0x0}
//	    - {freq_khz: 585000, vote: 0x40, acd: 0xa02b5ffd}
//	  gmu:
//	    - {freq_khz: 200000, vote: 0x60}
//	bandwidth:
//	  ddr_addrs: [0x50000]
//	  ddr_data: [[0x0], [0x60000100]]
//	metrics:
//	  listen: 127.0.0.1:9100
//	log:
//	  level: info
//	  format: json
//
// GPU levels without acd are sent as hfi.ACDUnused. Values left unset take
// the defaults returned by [Default]. A loaded
// [File] serves the power and bandwidth tables to the host directly:
//
//	cfg, err := config.Load("/etc/softgmu")
//	hostCfg, err := cfg.HostConfig(nil)
//	h := host.New(gmu, cfg, cfg, loader, hostCfg)
package config
