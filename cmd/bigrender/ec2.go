// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigrender/renderconfig"

	// Registers the ec2system instances written to the profile.
	_ "github.com/grailbio/bigmachine/ec2system"
)

const (
	securityGroupTag = "bigrender-sg"
	// renderInstance is the EC2 instance type of render servers;
	// compositing and compression are memory-bandwidth bound.
	renderInstance = "c5.2xlarge"
)

func setupEc2Usage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: bigrender setup-ec2 [-securitygroup name]

Command setup-ec2 configures bigrender to run its render and data
servers on AWS EC2. It finds (by tag) or creates a security group
admitting the traffic of a render session, and writes the resulting
profile to `, renderconfig.Path, `, modifying an existing profile
in place.

The security group admits:

	all traffic within the default VPC
	all outbound traffic
	inbound SSH connections
	inbound HTTPS connections to the bigmachine servers

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func setupEc2Cmd(args []string) {
	var (
		flags         = flag.NewFlagSet("bigrender setup-ec2", flag.ExitOnError)
		securityGroup = flags.String("securitygroup", "bigrender", "name of the security group to set up")
	)
	flags.Usage = func() { setupEc2Usage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 0 {
		flags.Usage()
	}

	profile := config.New()
	if f, err := os.Open(renderconfig.Path); err == nil {
		must.Nil(profile.Parse(f))
		must.Nil(f.Close())
	} else {
		must.True(os.IsNotExist(err), err)
	}
	if region, ok := profile.Get("aws/env.region"); ok && len(region) > 0 {
		must.Nil(profile.Set("bigmachine/ec2system.default-region", strings.Trim(region, `"`)))
	}

	if v, ok := profile.Get("bigmachine/ec2system.security-group"); ok && v != `""` {
		log.Printf("security group %s already configured", v)
	} else {
		sess, err := session.NewSession()
		must.Nil(err, "setting up AWS session")
		svc := ec2.New(sess)
		id, err := findSecurityGroup(svc, *securityGroup)
		if err == nil && id == "" {
			id, err = createSecurityGroup(svc, *securityGroup)
		}
		must.Nil(err, "setting up security group")
		must.Nil(profile.Set("bigmachine/ec2system.security-group", id))
	}

	must.Nil(profile.Set("bigrender.system", "bigmachine/ec2system"))
	must.Nil(profile.Set("bigmachine/ec2system.instance", renderInstance))
	var buf bytes.Buffer
	must.Nil(profile.PrintTo(&buf))
	must.Nil(os.MkdirAll(filepath.Dir(renderconfig.Path), 0777))
	tmp := renderconfig.Path + ".setup-ec2"
	must.Nil(ioutil.WriteFile(tmp, buf.Bytes(), 0666))
	must.Nil(os.Rename(tmp, renderconfig.Path))
	log.Printf("wrote configuration to %s", renderconfig.Path)
}

// findSecurityGroup returns the ID of a previously created bigrender
// security group, or an empty ID if there is none.
func findSecurityGroup(svc *ec2.EC2, name string) (string, error) {
	resp, err := svc.DescribeSecurityGroups(&ec2.DescribeSecurityGroupsInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("group-name"), Values: []*string{aws.String(name)}},
			{Name: aws.String("tag-key"), Values: []*string{aws.String(securityGroupTag)}},
		},
	})
	if err != nil {
		return "", errors.E(errors.Net, "query security group "+name, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return "", nil
	}
	id := aws.StringValue(resp.SecurityGroups[0].GroupId)
	log.Printf("found security group %s", id)
	return id, nil
}

func createSecurityGroup(svc *ec2.EC2, name string) (string, error) {
	vpcs, err := svc.DescribeVpcs(&ec2.DescribeVpcsInput{
		Filters: []*ec2.Filter{{Name: aws.String("isDefault"), Values: []*string{aws.String("true")}}},
	})
	if err != nil {
		return "", errors.E(errors.Net, "query default VPC", err)
	}
	if len(vpcs.Vpcs) != 1 {
		return "", errors.E(errors.NotExist, fmt.Sprintf(
			"account has %d default VPCs; see https://docs.aws.amazon.com/vpc/latest/userguide/default-vpc.html",
			len(vpcs.Vpcs)))
	}
	vpc := vpcs.Vpcs[0]
	log.Printf("creating security group %s in VPC %s", name, aws.StringValue(vpc.VpcId))
	resp, err := svc.CreateSecurityGroup(&ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("bigrender render session servers"),
		VpcId:       vpc.VpcId,
	})
	if err != nil {
		return "", errors.E("create security group "+name, err)
	}
	id := aws.StringValue(resp.GroupId)
	anywhere := []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}}
	_, err = svc.AuthorizeSecurityGroupIngress(&ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(id),
		IpPermissions: []*ec2.IpPermission{
			{
				IpProtocol: aws.String("-1"),
				IpRanges:   []*ec2.IpRange{{CidrIp: vpc.CidrBlock}},
				FromPort:   aws.Int64(0),
				ToPort:     aws.Int64(0),
			},
			{IpProtocol: aws.String("tcp"), IpRanges: anywhere, FromPort: aws.Int64(22), ToPort: aws.Int64(22)},
			{IpProtocol: aws.String("tcp"), IpRanges: anywhere, FromPort: aws.Int64(443), ToPort: aws.Int64(443)},
		},
	})
	if err != nil {
		return "", errors.E("authorize ingress for security group "+id, err)
	}
	// Egress is unrestricted by default.
	_, err = svc.CreateTags(&ec2.CreateTagsInput{
		Resources: []*string{aws.String(id)},
		Tags: []*ec2.Tag{
			{Key: aws.String(securityGroupTag), Value: aws.String("true")},
			{Key: aws.String("Name"), Value: aws.String(name)},
		},
	})
	if err != nil {
		log.Error.Printf("tag security group %s: %v", id, err)
	}
	log.Printf("created security group %s", id)
	return id, nil
}
