// Package ec2 contains the AWS::EC2 CloudFormation resource types used by the
// fluffy-engine network and server stacks.
//
// Fields that accept a reference to another resource are typed `any` so they
// can hold a literal ID, a stack.Handle, or an intrinsic function:
//
//	subnet := ec2.Subnet{
//		VpcId:            vpc,                                // Ref
//		CidrBlock:        "172.31.0.0/24",
//		AvailabilityZone: Select{Index: 0, List: GetAZs{}},
//	}
package ec2
