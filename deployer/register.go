package deployer

import (
	"github.com/GoCodeAlone/kernel"
)

// Registered type names.
const (
	MainDeployerType = "deployer.MainDeployer"
	HotDeployerType  = "deployer.HotDeployer"
)

// Register adds the deployer bean types to types.
func Register(types *kernel.TypeRegistry) error {
	return types.Register(
		kernel.Describe[*MainDeployer](MainDeployerType).
			Constructor(NewMainDeployer).
			Method("AddDeployer", (*MainDeployer).AddDeployer).
			Method("RemoveDeployer", (*MainDeployer).RemoveDeployer).
			Method("GetDeployed", (*MainDeployer).Deployed),
		kernel.Describe[*HotDeployer](HotDeployerType).
			Constructor(NewHotDeployer).
			Method("SetDirectory", (*HotDeployer).SetDirectory).
			Method("SetSchedule", (*HotDeployer).SetSchedule).
			Method("SetWatch", (*HotDeployer).SetWatch).
			Method("GetDirectory", (*HotDeployer).Directory).
			Method("Scan", (*HotDeployer).Scan),
	)
}
